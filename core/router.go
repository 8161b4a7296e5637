package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Router is the dispatch loop. It subscribes to every registered topic, then
// routes each inbound message to its handler. A failing handler never stops
// consumption.
type Router struct {
	conn       *Connection
	registry   *Registry
	publisher  *Publisher
	binder     Binder
	logger     *zap.Logger
	deadLetter string

	mu          sync.Mutex
	state       DispatchState
	middlewares []MiddlewareFunc
	routes      map[string]HandlerFunc // read-only once Running
	inflight    sync.WaitGroup
	stopFetch   context.CancelFunc
	abandon     context.CancelFunc
	done        chan struct{}
	err         error
}

// NewRouter creates a Router in the NotStarted state.
func NewRouter(conn *Connection, registry *Registry, p *Publisher, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		conn:      conn,
		registry:  registry,
		publisher: p,
		binder:    JSONBinder{},
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// SetBinder replaces the message binder used by Context.Bind().
// Must be called before Start.
func (r *Router) SetBinder(b Binder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binder = b
}

// SetDeadLetterTopic enables forwarding of unroutable and failed messages to
// topic. Must be called before Start.
func (r *Router) SetDeadLetterTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetter = topic
}

// Use registers global middleware. Given middleware [A, B, C], the call
// order is A -> B -> C -> handler.
func (r *Router) Use(m MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, m)
}

// Handle registers the handler for topic. Registering the same topic twice
// replaces the earlier handler. Once Start has been called it returns
// ErrRegistrationClosed.
func (r *Router) Handle(topic string, h HandlerFunc) error {
	if topic == "" {
		return ErrTopicRequired
	}
	if h == nil {
		return ErrHandlerRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != DispatchNotStarted {
		return ErrRegistrationClosed
	}
	r.registry.Register(topic, h)
	return nil
}

// State returns the current dispatch state.
func (r *Router) State() DispatchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the consume task has exited.
func (r *Router) Done() <-chan struct{} { return r.done }

// Err returns the transport error that ended the consume task, if any.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Start subscribes to every registered topic and then starts consuming in
// the background. If any subscription fails nothing is consumed and a
// *SubscriptionError is returned. With no registered topics Start logs a
// warning and does nothing.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != DispatchNotStarted {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	if st := r.conn.State(); st != StateConnected {
		r.mu.Unlock()
		return &NotConnectedError{Op: "start dispatch", State: st}
	}
	if r.registry.Len() == 0 {
		r.mu.Unlock()
		r.logger.Warn("no topic handlers registered, dispatch not started")
		return nil
	}
	r.state = DispatchSubscribing

	// Snapshot routes and middleware under lock
	topics := r.registry.Topics()
	handlers := r.registry.Snapshot()
	mws := make([]MiddlewareFunc, len(r.middlewares))
	copy(mws, r.middlewares)
	r.mu.Unlock()

	broker := r.conn.Broker()
	for _, topic := range topics {
		if err := broker.Subscribe(ctx, topic); err != nil {
			r.mu.Lock()
			r.state = DispatchStopped
			r.mu.Unlock()
			close(r.done)
			r.logger.Error("subscribe failed, dispatch aborted", zap.String("topic", topic), zap.Error(err))
			return &SubscriptionError{Topic: topic, Err: err}
		}
		r.logger.Info("subscribed to topic", zap.String("topic", topic))
	}

	routes := make(map[string]HandlerFunc, len(handlers))
	for topic, h := range handlers {
		routes[topic] = applyMiddleware(h, mws)
	}

	fetchCtx, stopFetch := context.WithCancel(ctx)
	handlerCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))

	r.mu.Lock()
	if r.state != DispatchSubscribing {
		r.mu.Unlock()
		stopFetch()
		abandon()
		close(r.done)
		return ErrDispatchStopped
	}
	r.routes = routes
	r.stopFetch = stopFetch
	r.abandon = abandon
	r.state = DispatchRunning
	r.mu.Unlock()

	go r.consume(fetchCtx, handlerCtx)
	r.logger.Info("dispatch started", zap.Strings("topics", topics))
	return nil
}

func (r *Router) consume(fetchCtx, handlerCtx context.Context) {
	defer close(r.done)
	err := r.conn.Broker().Consume(fetchCtx, func(_ context.Context, msg Message) {
		r.dispatch(fetchCtx, handlerCtx, msg)
	})

	r.mu.Lock()
	r.state = DispatchStopped
	if err != nil && fetchCtx.Err() == nil {
		r.err = fmt.Errorf("jobrelay: consume: %w", err)
	}
	r.mu.Unlock()

	if err != nil && fetchCtx.Err() == nil {
		r.logger.Error("consume loop failed", zap.Error(err))
	} else {
		r.logger.Info("dispatch stopped")
	}
}

// admit reserves an in-flight slot unless dispatch has stopped.
func (r *Router) admit(fetchCtx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != DispatchRunning || fetchCtx.Err() != nil {
		return false
	}
	r.inflight.Add(1)
	return true
}

func (r *Router) dispatch(fetchCtx, handlerCtx context.Context, msg Message) {
	if !r.admit(fetchCtx) {
		if err := msg.Nack(); err != nil {
			r.logger.Debug("nack after stop failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
		return
	}
	defer r.inflight.Done()

	fields := messageFields(msg)
	h, ok := r.routes[msg.Topic()]
	if !ok {
		r.logger.Warn("no handler registered for topic, dropping message", fields...)
		r.deadLetterOrDrop(handlerCtx, msg, ErrNoHandler)
		r.settle(msg)
		return
	}

	if err := r.invoke(handlerCtx, h, msg); err != nil {
		r.logger.Error("handler failed", append(fields, zap.Error(err))...)
		r.deadLetterOrDrop(handlerCtx, msg, err)
	}
	r.settle(msg)
}

// invoke runs h and converts a panic into an error.
func (r *Router) invoke(ctx context.Context, h HandlerFunc, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("jobrelay: handler panic: %v", rec)
		}
	}()
	return h(NewContext(ctx, msg, r.publisher, r.binder))
}

func (r *Router) settle(msg Message) {
	if err := msg.Ack(); err != nil {
		r.logger.Warn("ack failed", append(messageFields(msg), zap.Error(err))...)
	}
}

func (r *Router) deadLetterOrDrop(ctx context.Context, msg Message, cause error) {
	if r.deadLetter == "" || msg.Topic() == r.deadLetter {
		return
	}
	err := forward(ctx, r.publisher, msg, r.deadLetter, map[string]string{
		HeaderOriginalTopic: msg.Topic(),
		HeaderDispatchError: cause.Error(),
	})
	if err != nil {
		r.logger.Error("dead-letter publish failed", append(messageFields(msg), zap.Error(err))...)
	}
}

// Stop ends dispatch. No handler invocation starts after Stop returns, even
// for messages the transport already fetched. Handlers in flight may finish
// until ctx expires; after that their context is cancelled and they are
// abandoned.
func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	prev := r.state
	r.state = DispatchStopped
	stopFetch, abandon := r.stopFetch, r.abandon
	r.mu.Unlock()

	switch prev {
	case DispatchNotStarted:
		close(r.done)
		return
	case DispatchSubscribing:
		return
	}
	if stopFetch != nil {
		stopFetch()
	}

	drained := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		r.logger.Warn("grace period expired, abandoning in-flight handlers")
	}
	if abandon != nil {
		abandon()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

// applyMiddleware wraps a handler with middleware in reverse order.
// Given middleware [A, B, C], the call order is A -> B -> C -> handler.
func applyMiddleware(h HandlerFunc, mws []MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func messageFields(msg Message) []zap.Field {
	fields := []zap.Field{
		zap.String("topic", msg.Topic()),
		zap.Int("partition", msg.Partition()),
	}
	if k := msg.Key(); len(k) > 0 {
		fields = append(fields, zap.ByteString("key", k))
	}
	return fields
}
