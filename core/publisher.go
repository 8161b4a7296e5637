package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PublishRequest describes a single outbound message. An empty Key means the
// transport chooses the partition.
type PublishRequest struct {
	Topic   string
	Key     string
	Payload any
	Headers map[string]string
}

// PublishOption configures a PublishRequest.
type PublishOption func(*PublishRequest)

// WithKey sets the partition key. Messages with the same key land on the same
// partition and keep their relative order.
func WithKey(key string) PublishOption {
	return func(r *PublishRequest) { r.Key = key }
}

// WithHeader adds a header to the outbound message.
func WithHeader(key, value string) PublishOption {
	return func(r *PublishRequest) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// PublishObserver is notified after every publish attempt that reached the
// transport.
type PublishObserver interface {
	MessagePublished(topic string, duration time.Duration, err error)
}

// Publisher sends messages through the Connection's broker.
type Publisher struct {
	conn     *Connection
	logger   *zap.Logger
	observer PublishObserver
}

// NewPublisher creates a Publisher bound to conn. observer may be nil.
func NewPublisher(conn *Connection, logger *zap.Logger, observer PublishObserver) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, logger: logger, observer: observer}
}

// Publish encodes payload and sends it to topic.
//
//	err := p.Publish(ctx, "bor-etl-jobs", job, core.WithKey(job.JobID))
func (p *Publisher) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	req := PublishRequest{Topic: topic, Payload: payload}
	for _, opt := range opts {
		opt(&req)
	}
	return p.Send(ctx, req)
}

// Send publishes req. It fails with *NotConnectedError, without any I/O, when
// the connection is not established, and with *PublishError when encoding or
// the transport fails. It never retries.
func (p *Publisher) Send(ctx context.Context, req PublishRequest) error {
	if req.Topic == "" {
		return ErrTopicRequired
	}
	if st := p.conn.State(); st != StateConnected {
		return &NotConnectedError{Op: "publish", State: st}
	}

	value, err := EncodePayload(req.Payload)
	if err != nil {
		return &PublishError{Topic: req.Topic, Err: err}
	}

	env := Envelope{
		Value:   value,
		Headers: make(map[string]string, len(req.Headers)+1),
	}
	for k, v := range req.Headers {
		env.Headers[k] = v
	}
	if _, ok := env.Headers[HeaderMessageID]; !ok {
		env.Headers[HeaderMessageID] = uuid.NewString()
	}
	if req.Key != "" {
		env.Key = []byte(req.Key)
	}

	start := time.Now()
	err = p.conn.Broker().Publish(ctx, req.Topic, env)
	if p.observer != nil {
		p.observer.MessagePublished(req.Topic, time.Since(start), err)
	}
	if err != nil {
		p.logger.Error("publish failed", zap.String("topic", req.Topic), zap.String("key", req.Key), zap.Error(err))
		return &PublishError{Topic: req.Topic, Err: err}
	}

	p.logger.Debug("published message",
		zap.String("topic", req.Topic),
		zap.String("key", req.Key),
		zap.String("message_id", env.Headers[HeaderMessageID]),
	)
	return nil
}

// EncodePayload converts a payload to bytes. Strings and byte slices are sent
// as-is; any other value is JSON-encoded.
func EncodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return b, nil
	}
}
