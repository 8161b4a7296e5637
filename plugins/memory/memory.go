// Package memory is an in-process transport built on watermill's GoChannel.
// It needs no external broker and is used for local development and
// end-to-end tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miladsoleymani/jobrelay/broker"
	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/internal/logging"
)

func init() {
	broker.Register("memory", func(cfg broker.Config) (core.Broker, error) {
		return New(
			WithLogger(cfg.Logger),
			WithBuffer(int64(cfg.Int("buffer", 0))),
		), nil
	})
}

// Option configures the memory broker.
type Option func(*options)

type options struct {
	logger *zap.Logger
	buffer int64
}

// WithLogger routes watermill logs to logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBuffer sets the per-subscriber output channel buffer.
func WithBuffer(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

type subscription struct {
	topic    string
	messages <-chan *message.Message
}

// metaSeq carries the per-topic publish sequence. GoChannel hands each
// message to the subscriber from its own goroutine, so Consume restores
// publish order from it.
const metaSeq = "jobrelay-seq"

// Broker implements core.Broker on a watermill GoChannel. Messages
// published before a topic is subscribed are kept and replayed. Every topic
// has one partition and is delivered in publish order.
type Broker struct {
	opts options

	pubMu sync.Mutex
	seq   map[string]uint64

	mu     sync.Mutex
	pubsub *gochannel.GoChannel
	stop   context.CancelFunc
	runCtx context.Context
	subs   []subscription
	closed bool
}

// New creates a memory Broker.
func New(fns ...Option) *Broker {
	opts := options{logger: zap.NewNop(), buffer: 64}
	for _, fn := range fns {
		fn(&opts)
	}
	return &Broker{opts: opts}
}

// Connect creates a fresh GoChannel. Messages from a previous connection
// are discarded.
func (b *Broker) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		b.shutdownLocked()
	}
	b.pubsub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: b.opts.buffer,
		Persistent:          true,
	}, logging.NewWatermillAdapter(b.opts.logger))
	b.runCtx, b.stop = context.WithCancel(context.Background())
	b.pubMu.Lock()
	b.seq = make(map[string]uint64)
	b.pubMu.Unlock()
	b.subs = nil
	b.closed = false
	return nil
}

func (b *Broker) current() (*gochannel.GoChannel, context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.pubsub == nil {
		return nil, nil, core.ErrBrokerClosed
	}
	return b.pubsub, b.runCtx, nil
}

// Publish stores the envelope on topic.
func (b *Broker) Publish(ctx context.Context, topic string, env core.Envelope) error {
	ps, _, err := b.current()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	m := toMessage(env, time.Now())
	m.Metadata.Set(metaSeq, strconv.FormatUint(b.seq[topic], 10))
	if err := ps.Publish(topic, m); err != nil {
		return fmt.Errorf("jobrelay/memory: publish to %q: %w", topic, err)
	}
	b.seq[topic]++
	return nil
}

// Subscribe opens the topic's subscription. Messages are buffered until
// Consume reads them.
func (b *Broker) Subscribe(_ context.Context, topic string) error {
	ps, runCtx, err := b.current()
	if err != nil {
		return err
	}
	messages, err := ps.Subscribe(runCtx, topic)
	if err != nil {
		return fmt.Errorf("jobrelay/memory: subscribe %q: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, subscription{topic: topic, messages: messages})
	b.mu.Unlock()
	return nil
}

// Consume delivers every subscribed topic until ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, handler core.Handler) error {
	if _, _, err := b.current(); err != nil {
		return err
	}
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			return drain(gctx, sub, handler)
		})
	}
	if len(subs) == 0 {
		<-ctx.Done()
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// drain delivers one subscription in publish order. Messages that arrive
// early are held until their predecessors have been handled.
func drain(ctx context.Context, sub subscription, handler core.Handler) error {
	pending := make(map[uint64]*message.Message)
	var next uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-sub.messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("jobrelay/memory: subscription %q closed", sub.topic)
			}
			seq, err := strconv.ParseUint(m.Metadata.Get(metaSeq), 10, 64)
			if err != nil || seq < next {
				// Not sequenced by Publish, or redelivered after a nack.
				handler(ctx, &delivery{topic: sub.topic, msg: m})
				continue
			}
			pending[seq] = m
			for {
				pm, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				handler(ctx, &delivery{topic: sub.topic, msg: pm})
			}
		}
	}
}

// Close ends all subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.pubsub == nil {
		return nil
	}
	return b.shutdownLocked()
}

func (b *Broker) shutdownLocked() error {
	b.stop()
	err := b.pubsub.Close()
	b.pubsub, b.subs = nil, nil
	if err != nil {
		return fmt.Errorf("jobrelay/memory: close: %w", err)
	}
	return nil
}

func toMessage(env core.Envelope, now time.Time) *message.Message {
	id := env.Headers[core.HeaderMessageID]
	if id == "" {
		id = watermill.NewUUID()
	}
	m := message.NewMessage(id, env.Value)
	for k, v := range env.Headers {
		m.Metadata.Set(k, v)
	}
	if len(env.Key) > 0 {
		m.Metadata.Set(core.HeaderKey, string(env.Key))
	}
	m.Metadata.Set(core.HeaderTimestamp, now.UTC().Format(time.RFC3339Nano))
	return m
}
