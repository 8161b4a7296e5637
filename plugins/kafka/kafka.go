package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miladsoleymani/jobrelay/broker"
	"github.com/miladsoleymani/jobrelay/core"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (core.Broker, error) {
		return New(cfg.Brokers, cfg.Group, optsFromConfig(cfg)...)
	})
}

// Broker implements core.Broker for Apache Kafka using segmentio/kafka-go.
//
//   - One kafka.Writer shared across all Publish calls, synchronous, waiting
//     for all in-sync replicas. Keys are hashed to partitions.
//   - One kafka.Reader per subscribed topic, all drained by Consume.
//   - Offsets are committed by Ack; Nack leaves the offset uncommitted.
//   - Without a consumer group a reader only reads partition 0.
type Broker struct {
	brokers []string
	group   string
	opts    options

	mu      sync.Mutex
	writer  *kafka.Writer
	readers []*kafka.Reader
	closed  bool
}

// New creates a Kafka Broker. No connection is made until Connect.
func New(brokers []string, group string, fns ...Option) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("jobrelay/kafka: at least one broker address is required")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Broker{brokers: brokers, group: group, opts: opts}, nil
}

func (b *Broker) dialer() *kafka.Dialer {
	if b.opts.dialer != nil {
		return b.opts.dialer
	}
	return &kafka.Dialer{
		ClientID:  b.opts.clientID,
		Timeout:   b.opts.dialTimeout,
		DualStack: true,
	}
}

// dial returns a connection to the first reachable bootstrap broker.
func (b *Broker) dial(ctx context.Context) (*kafka.Conn, error) {
	d := b.dialer()
	var errs []error
	for _, addr := range b.brokers {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, fmt.Errorf("jobrelay/kafka: dial: %w", errors.Join(errs...))
}

func (b *Broker) newWriter() *kafka.Writer {
	d := b.dialer()
	return &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Balancer:               b.opts.balancer,
		BatchSize:              b.opts.batchSize,
		BatchTimeout:           b.opts.batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: b.opts.autoCreate,
		ErrorLogger:            kafka.LoggerFunc(b.opts.logger.Sugar().Errorf),
		Transport: &kafka.Transport{
			ClientID:    b.opts.clientID,
			DialTimeout: b.opts.dialTimeout,
			TLS:         d.TLS,
			SASL:        d.SASLMechanism,
		},
	}
}

// Connect checks that the cluster answers a metadata request and prepares
// the producer. It may be called again after Close.
func (b *Broker) Connect(ctx context.Context) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	brokers, err := conn.Brokers()
	if err != nil {
		return fmt.Errorf("jobrelay/kafka: read cluster metadata: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer != nil {
		_ = b.writer.Close()
	}
	b.writer = b.newWriter()
	b.readers = nil
	b.closed = false
	b.opts.logger.Info("connected to kafka", zap.Strings("brokers", b.brokers), zap.Int("cluster_size", len(brokers)))
	return nil
}

// Publish sends a message to the specified topic.
func (b *Broker) Publish(ctx context.Context, topic string, env core.Envelope) error {
	b.mu.Lock()
	w := b.writer
	closed := b.closed
	b.mu.Unlock()
	if closed || w == nil {
		return core.ErrBrokerClosed
	}

	km := kafka.Message{
		Topic:   topic,
		Key:     env.Key,
		Value:   env.Value,
		Headers: toHeaders(env.Headers),
	}
	if err := w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("jobrelay/kafka: publish to %q: %w", topic, err)
	}
	return nil
}

// Subscribe verifies that topic has partitions and creates its reader.
// Nothing is fetched until Consume.
func (b *Broker) Subscribe(ctx context.Context, topic string) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	partitions, err := conn.ReadPartitions(topic)
	conn.Close()
	if err != nil {
		return fmt.Errorf("jobrelay/kafka: read partitions of %q: %w", topic, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("jobrelay/kafka: topic %q has no partitions", topic)
	}

	cfg := kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       topic,
		GroupID:     b.group,
		MinBytes:    b.opts.minBytes,
		MaxBytes:    b.opts.maxBytes,
		MaxWait:     b.opts.maxWait,
		Dialer:      b.dialer(),
		ErrorLogger: kafka.LoggerFunc(b.opts.logger.Sugar().Errorf),
	}
	if b.group != "" {
		cfg.StartOffset = b.opts.startOffset
	}
	r := kafka.NewReader(cfg)
	if b.group == "" {
		if err := r.SetOffset(b.opts.startOffset); err != nil {
			r.Close()
			return fmt.Errorf("jobrelay/kafka: set offset of %q: %w", topic, err)
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		r.Close()
		return core.ErrBrokerClosed
	}
	b.readers = append(b.readers, r)
	b.mu.Unlock()
	return nil
}

// Consume runs one fetch loop per subscribed topic. Messages from one
// partition are delivered in offset order. It returns nil once ctx is
// cancelled and the first fetch error otherwise.
func (b *Broker) Consume(ctx context.Context, handler core.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	readers := slices.Clone(b.readers)
	b.mu.Unlock()

	if len(readers) == 0 {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range readers {
		g.Go(func() error {
			return b.fetchLoop(gctx, r, handler)
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// fetchLoop fetches messages and dispatches them to the handler.
func (b *Broker) fetchLoop(ctx context.Context, r *kafka.Reader, handler core.Handler) error {
	for {
		raw, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("jobrelay/kafka: fetch %q: %w", r.Config().Topic, err)
		}
		handler(ctx, &message{
			raw:           raw,
			reader:        r,
			grouped:       b.group != "",
			commitTimeout: b.opts.commitTimeout,
		})
	}
}

// Close flushes the writer and closes all readers.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.writer != nil {
		if err := b.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jobrelay/kafka: close writer: %w", err))
		}
		b.writer = nil
	}
	for _, r := range b.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jobrelay/kafka: close reader: %w", err))
		}
	}
	b.readers = nil
	return errors.Join(errs...)
}

// optsFromConfig extracts options from the broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	opts := []Option{
		WithClientID(cfg.ClientID),
		WithLogger(cfg.Logger),
	}
	if v := cfg.Int("batch_size", 0); v > 0 {
		opts = append(opts, WithBatchSize(v))
	}
	if v := cfg.Int("max_bytes", 0); v > 0 {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := cfg.Extra["auto_create_topics"].(bool); ok {
		opts = append(opts, WithAutoCreateTopics(v))
	}
	switch cfg.String("start_offset", "") {
	case "first":
		opts = append(opts, WithStartOffset(kafka.FirstOffset))
	case "last":
		opts = append(opts, WithStartOffset(kafka.LastOffset))
	}
	return opts
}
