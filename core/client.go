package core

import (
	"context"

	"go.uber.org/zap"
)

// Client is the process-scoped broker client. It composes the Connection,
// the Registry, the Router and the Publisher around one Broker. Construct it
// once at startup and pass it to everything that publishes or handles
// messages.
type Client struct {
	conn      *Connection
	registry  *Registry
	router    *Router
	publisher *Publisher
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger     *zap.Logger
	retry      RetryPolicy
	binder     Binder
	observer   PublishObserver
	deadLetter string
}

// WithLogger sets the logger used by every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithRetryPolicy sets the connect retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *clientOptions) { o.retry = p }
}

// WithBinder replaces the JSON binder used by Context.Bind.
func WithBinder(b Binder) Option {
	return func(o *clientOptions) { o.binder = b }
}

// WithPublishObserver reports every publish to obs.
func WithPublishObserver(obs PublishObserver) Option {
	return func(o *clientOptions) { o.observer = obs }
}

// WithDeadLetterTopic forwards unroutable and failed messages to topic
// instead of dropping them.
func WithDeadLetterTopic(topic string) Option {
	return func(o *clientOptions) { o.deadLetter = topic }
}

// New creates a Client bound to the given Broker.
func New(b Broker, fns ...Option) *Client {
	opts := clientOptions{
		logger: zap.NewNop(),
		retry:  DefaultRetryPolicy(),
	}
	for _, fn := range fns {
		fn(&opts)
	}

	conn := NewConnection(b, opts.retry, opts.logger)
	registry := NewRegistry(opts.logger)
	publisher := NewPublisher(conn, opts.logger, opts.observer)
	router := NewRouter(conn, registry, publisher, opts.logger)
	if opts.binder != nil {
		router.SetBinder(opts.binder)
	}
	if opts.deadLetter != "" {
		router.SetDeadLetterTopic(opts.deadLetter)
	}

	return &Client{
		conn:      conn,
		registry:  registry,
		router:    router,
		publisher: publisher,
		logger:    opts.logger,
	}
}

// Connect establishes the broker connections; see Connection.Connect.
func (c *Client) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

// Disconnect stops dispatch and closes the broker connections within the
// grace period carried by ctx. It is safe to call more than once.
func (c *Client) Disconnect(ctx context.Context) {
	c.router.Stop(ctx)
	c.conn.Disconnect(ctx)
}

// State returns the connection state.
func (c *Client) State() ConnectionState { return c.conn.State() }

// Use registers middleware applied to every handler.
func (c *Client) Use(m MiddlewareFunc) { c.router.Use(m) }

// Handle registers the handler for topic; see Router.Handle.
func (c *Client) Handle(topic string, h HandlerFunc) error { return c.router.Handle(topic, h) }

// Start subscribes and starts dispatch; see Router.Start.
func (c *Client) Start(ctx context.Context) error { return c.router.Start(ctx) }

// Done is closed when dispatch has ended.
func (c *Client) Done() <-chan struct{} { return c.router.Done() }

// Err reports a fatal consume error after Done is closed.
func (c *Client) Err() error { return c.router.Err() }

// DispatchState returns the state of the dispatch loop.
func (c *Client) DispatchState() DispatchState { return c.router.State() }

// Publish sends payload to topic; see Publisher.Publish.
func (c *Client) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	return c.publisher.Publish(ctx, topic, payload, opts...)
}

// Publisher returns the client's Publisher.
func (c *Client) Publisher() *Publisher { return c.publisher }

// Topics returns the topics that have a handler, sorted.
func (c *Client) Topics() []string { return c.registry.Topics() }
