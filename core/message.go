package core

import (
	"context"
	"time"
)

// Message is the broker-agnostic inbound message abstraction.
// Implementations are provided by broker plugins.
type Message interface {
	Topic() string
	Partition() int
	Key() []byte
	Value() []byte
	Headers() map[string]string

	// Timestamp returns the broker timestamp, or the zero time when the
	// transport does not provide one.
	Timestamp() time.Time

	// Ack and Nack settle the message with the transport. They are called by
	// the Router only; handlers never settle messages themselves.
	Ack() error
	Nack() error
}

// Envelope is an encoded outbound record handed to a Broker.
type Envelope struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Handler is the low-level delivery callback used by broker subscriptions.
// Users should prefer HandlerFunc which receives a Context.
type Handler func(ctx context.Context, msg Message)

// Well-known header names set on outbound envelopes.
const (
	HeaderMessageID     = "message-id"
	HeaderKey           = "message-key"
	HeaderTimestamp     = "message-timestamp"
	HeaderOriginalTopic = "x-original-topic"
	HeaderDispatchError = "x-error"
)
