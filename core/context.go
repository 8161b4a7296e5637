package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Context is the handler context, inspired by echo.Context.
// It wraps the incoming message, provides deserialization via Bind,
// and lets handlers emit follow-up messages.
type Context interface {
	// Context returns the underlying context.Context.
	Context() context.Context

	// SetContext replaces the underlying context.Context.
	// Useful for middleware that enriches the context with values or deadlines.
	SetContext(ctx context.Context)

	// Message returns the raw underlying Message.
	Message() Message

	// Topic returns the topic this message was received on.
	Topic() string

	Partition() int
	Key() []byte
	Value() []byte
	Timestamp() time.Time

	// Header returns a single header value by key.
	Header(key string) string

	// Headers returns all message headers.
	Headers() map[string]string

	// Bind deserializes the message body into the given value
	// using the router's configured Binder.
	Bind(v any) error

	// Publish sends a new message, typically a follow-up status update.
	Publish(topic string, payload any, opts ...PublishOption) error

	// Republish forwards the current message body and key to another topic.
	// Useful for dead-letter routing or fan-out.
	Republish(topic string) error

	// Set stores a key-value pair in the context store.
	// Used by middleware to pass data to downstream handlers.
	Set(key string, val any)

	// Get retrieves a value from the context store.
	Get(key string) (any, bool)
}

// HandlerFunc is the function signature for topic handlers.
//
//	c.Handle("bor-etl-jobs", func(c core.Context) error {
//	    var job JobRequest
//	    if err := c.Bind(&job); err != nil {
//	        return err
//	    }
//	    return c.Publish("bor-etl-status", started(job), core.WithKey(job.JobID))
//	})
type HandlerFunc func(c Context) error

// MiddlewareFunc wraps a HandlerFunc to add cross-cutting behavior.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

type eventContext struct {
	ctx       context.Context
	msg       Message
	publisher *Publisher
	binder    Binder
	store     map[string]any
	mu        sync.RWMutex
}

// NewContext creates a Context for the given message.
// This is called internally by the Router for each incoming message.
func NewContext(ctx context.Context, msg Message, p *Publisher, binder Binder) Context {
	return &eventContext{
		ctx:       ctx,
		msg:       msg,
		publisher: p,
		binder:    binder,
		store:     make(map[string]any),
	}
}

func (c *eventContext) Context() context.Context { return c.ctx }

func (c *eventContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *eventContext) Message() Message { return c.msg }

func (c *eventContext) Topic() string { return c.msg.Topic() }

func (c *eventContext) Partition() int { return c.msg.Partition() }

func (c *eventContext) Key() []byte { return c.msg.Key() }

func (c *eventContext) Value() []byte { return c.msg.Value() }

func (c *eventContext) Timestamp() time.Time { return c.msg.Timestamp() }

func (c *eventContext) Header(key string) string {
	return c.msg.Headers()[key]
}

func (c *eventContext) Headers() map[string]string {
	return c.msg.Headers()
}

func (c *eventContext) Bind(v any) error {
	if c.binder == nil {
		return fmt.Errorf("jobrelay: no binder configured")
	}
	if err := c.binder.Bind(c.msg.Value(), v); err != nil {
		return fmt.Errorf("jobrelay: bind: %w", err)
	}
	return nil
}

func (c *eventContext) Publish(topic string, payload any, opts ...PublishOption) error {
	if c.publisher == nil {
		return ErrNoBroker
	}
	return c.publisher.Publish(c.ctx, topic, payload, opts...)
}

func (c *eventContext) Republish(topic string) error {
	if c.publisher == nil {
		return ErrNoBroker
	}
	if err := forward(c.ctx, c.publisher, c.msg, topic, nil); err != nil {
		return fmt.Errorf("jobrelay: republish to %q: %w", topic, err)
	}
	return nil
}

// forward sends msg's key, value and headers unchanged to topic. extra
// headers are added on top.
func forward(ctx context.Context, p *Publisher, msg Message, topic string, extra map[string]string) error {
	headers := make(map[string]string, len(msg.Headers())+len(extra))
	for k, v := range msg.Headers() {
		headers[k] = v
	}
	for k, v := range extra {
		headers[k] = v
	}
	return p.Send(ctx, PublishRequest{
		Topic:   topic,
		Key:     string(msg.Key()),
		Payload: msg.Value(),
		Headers: headers,
	})
}

func (c *eventContext) Set(key string, val any) {
	c.mu.Lock()
	c.store[key] = val
	c.mu.Unlock()
}

func (c *eventContext) Get(key string) (any, bool) {
	c.mu.RLock()
	val, ok := c.store[key]
	c.mu.RUnlock()
	return val, ok
}
