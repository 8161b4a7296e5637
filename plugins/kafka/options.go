package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Option configures the Kafka broker.
type Option func(*options)

type options struct {
	clientID string
	logger   *zap.Logger

	// Writer
	balancer     kafka.Balancer
	batchSize    int
	batchTimeout time.Duration
	autoCreate   bool

	// Reader
	minBytes      int
	maxBytes      int
	maxWait       time.Duration
	startOffset   int64
	commitTimeout time.Duration

	// General
	dialTimeout time.Duration
	dialer      *kafka.Dialer
}

func defaults() options {
	return options{
		clientID:      "jobrelay",
		logger:        zap.NewNop(),
		balancer:      &kafka.Hash{},
		batchSize:     100,
		batchTimeout:  10 * time.Millisecond,
		autoCreate:    true,
		minBytes:      1,
		maxBytes:      10e6, // 10 MB
		maxWait:       500 * time.Millisecond,
		startOffset:   kafka.LastOffset,
		commitTimeout: 5 * time.Second,
		dialTimeout:   10 * time.Second,
	}
}

// WithClientID sets the client id reported to the cluster.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// WithLogger routes kafka-go error logs to logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBalancer sets the partition balancer for the writer. The default hashes
// the message key so equal keys land on the same partition.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithBatchTimeout bounds how long the writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) Option {
	return func(o *options) { o.batchTimeout = d }
}

// WithAutoCreateTopics lets the writer create missing topics.
func WithAutoCreateTopics(v bool) Option {
	return func(o *options) { o.autoCreate = v }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets where a reader without committed offsets starts
// (kafka.FirstOffset or kafka.LastOffset). The default is kafka.LastOffset,
// so a new group only sees messages published after it joins.
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithCommitTimeout bounds each offset commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(o *options) { o.commitTimeout = d }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}
