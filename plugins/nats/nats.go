package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/broker"
	"github.com/miladsoleymani/jobrelay/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Broker, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("jobrelay/nats: at least one broker URL is required")
		}
		return New(cfg.Brokers[0], cfg.Group, optsFromConfig(cfg)...), nil
	})
}

// Broker implements core.Broker for NATS JetStream.
//
//   - One NATS connection per Broker instance.
//   - Subscribe creates (or updates) a stream and a durable consumer per subject.
//   - Manual ack via Ack(); Nack() triggers server-side redelivery.
//   - The message key is carried in a header since subjects have no key.
type Broker struct {
	url   string
	group string
	opts  options

	mu        sync.Mutex
	conn      *nats.Conn
	js        jetstream.JetStream
	consumers []jetstream.Consumer
	closed    bool
}

// New creates a NATS JetStream Broker. url is a standard NATS URL
// (nats://host:port). No connection is made until Connect.
func New(url, group string, fns ...Option) *Broker {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Broker{url: url, group: group, opts: opts}
}

// Connect dials the server and initializes JetStream.
func (b *Broker) Connect(_ context.Context) error {
	log := b.opts.logger
	nc, err := nats.Connect(b.url,
		nats.Name(b.opts.clientID),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("jobrelay/nats: connect to %q: %w", b.url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("jobrelay/nats: init jetstream: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn, b.js = nc, js
	b.consumers = nil
	b.closed = false
	return nil
}

func (b *Broker) jetStream() (jetstream.JetStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.js == nil {
		return nil, core.ErrBrokerClosed
	}
	return b.js, nil
}

// Publish sends a message to the specified subject via JetStream.
func (b *Broker) Publish(ctx context.Context, topic string, env core.Envelope) error {
	js, err := b.jetStream()
	if err != nil {
		return err
	}

	nm := &nats.Msg{
		Subject: topic,
		Data:    env.Value,
		Header:  toHeader(env),
	}
	if _, err := js.PublishMsg(ctx, nm); err != nil {
		return fmt.Errorf("jobrelay/nats: publish to %q: %w", topic, err)
	}
	return nil
}

// Subscribe creates or updates a JetStream stream and durable consumer for
// the subject. Delivery starts with Consume.
func (b *Broker) Subscribe(ctx context.Context, topic string) error {
	js, err := b.jetStream()
	if err != nil {
		return err
	}

	streamName := sanitizeStreamName(topic)
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		MaxMsgs:   b.opts.maxMsgs,
		MaxBytes:  b.opts.maxBytes,
		MaxAge:    b.opts.maxAge,
		Replicas:  b.opts.replicas,
		Retention: b.opts.retention,
		Storage:   b.opts.storage,
	})
	if err != nil {
		return fmt.Errorf("jobrelay/nats: create stream %q: %w", streamName, err)
	}

	name := consumerName(b.group, streamName)
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.opts.ackWait,
		MaxDeliver:    b.opts.maxDeliver,
		DeliverPolicy: b.opts.deliverPolicy,
	})
	if err != nil {
		return fmt.Errorf("jobrelay/nats: create consumer %q: %w", name, err)
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, cons)
	b.mu.Unlock()
	return nil
}

// Consume starts every consumer and blocks until ctx is cancelled or a
// consumer disappears from the server.
func (b *Broker) Consume(ctx context.Context, handler core.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	consumers := append([]jetstream.Consumer(nil), b.consumers...)
	b.mu.Unlock()

	fatal := make(chan error, 1)
	onErr := jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if errors.Is(err, jetstream.ErrConsumerDeleted) || errors.Is(err, jetstream.ErrConsumerNotFound) {
			select {
			case fatal <- err:
			default:
			}
			return
		}
		b.opts.logger.Warn("nats consume error", zap.Error(err))
	})

	var running []jetstream.ConsumeContext
	defer func() {
		for _, cc := range running {
			cc.Stop()
		}
	}()
	for _, cons := range consumers {
		cc, err := cons.Consume(func(m jetstream.Msg) {
			handler(ctx, &message{msg: m})
		}, onErr)
		if err != nil {
			return fmt.Errorf("jobrelay/nats: start consume on %q: %w", cons.CachedInfo().Name, err)
		}
		running = append(running, cc)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return fmt.Errorf("jobrelay/nats: consumer lost: %w", err)
	}
}

// Close drains the NATS connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.consumers = nil
	if b.conn == nil {
		return nil
	}
	err := b.conn.Drain()
	b.conn, b.js = nil, nil
	if err != nil {
		return fmt.Errorf("jobrelay/nats: drain: %w", err)
	}
	return nil
}

// toHeader builds NATS headers from an envelope. The key goes in the
// message-key header and the message id doubles as the JetStream
// deduplication id.
func toHeader(env core.Envelope) nats.Header {
	h := nats.Header{}
	for k, v := range env.Headers {
		h.Set(k, v)
	}
	if len(env.Key) > 0 {
		h.Set(core.HeaderKey, string(env.Key))
	}
	if id := env.Headers[core.HeaderMessageID]; id != "" {
		h.Set(nats.MsgIdHdr, id)
	}
	return h
}

func consumerName(group, stream string) string {
	if group == "" {
		return "jobrelay-" + stream
	}
	return group + "-" + stream
}

// sanitizeStreamName converts a subject pattern to a valid stream name
// by replacing special characters.
func sanitizeStreamName(topic string) string {
	buf := make([]byte, len(topic))
	for i := range len(topic) {
		c := topic[i]
		if c == '.' || c == '*' || c == '>' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{
		WithClientID(cfg.ClientID),
		WithLogger(cfg.Logger),
	}
	if v := cfg.Int("max_deliver", 0); v > 0 {
		opts = append(opts, WithMaxDeliver(v))
	}
	if cfg.String("start_offset", "") == "first" {
		opts = append(opts, WithDeliverPolicy(jetstream.DeliverAllPolicy))
	}
	if v := cfg.Int("replicas", 0); v > 0 {
		opts = append(opts, WithReplicas(v))
	}
	if cfg.String("storage", "") == "memory" {
		opts = append(opts, WithStorage(jetstream.MemoryStorage))
	}
	return opts
}
