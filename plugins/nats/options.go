package nats

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Option configures the NATS broker.
type Option func(*options)

type options struct {
	clientID string
	logger   *zap.Logger

	// Stream
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy
	storage   jetstream.StorageType

	// Consumer
	ackWait       time.Duration
	maxDeliver    int
	deliverPolicy jetstream.DeliverPolicy
}

func defaults() options {
	return options{
		clientID:      "jobrelay",
		logger:        zap.NewNop(),
		maxMsgs:       -1, // unlimited
		maxBytes:      -1,
		replicas:      1,
		retention:     jetstream.LimitsPolicy,
		storage:       jetstream.FileStorage,
		ackWait:       30 * time.Second,
		maxDeliver:    5,
		deliverPolicy: jetstream.DeliverNewPolicy,
	}
}

// WithClientID sets the connection name shown by the server.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// WithLogger sets the logger for connection events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithStorage sets the stream storage type (file or memory).
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.storage = s }
}

// WithAckWait sets how long the server waits for an ack before redelivering.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the maximum number of delivery attempts.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}

// WithDeliverPolicy sets where a new durable consumer starts. The default,
// jetstream.DeliverNewPolicy, skips messages stored before it was created.
func WithDeliverPolicy(p jetstream.DeliverPolicy) Option {
	return func(o *options) { o.deliverPolicy = p }
}
