package core

import "context"

// Broker defines the contract for message transport implementations.
// Each broker plugin must implement this interface.
//
// The lifecycle is driven by Connection and Router:
// Connect, then Subscribe once per topic, then a single Consume call that
// blocks until its context is cancelled, then Close. Connect must be safe to
// call again after a failed attempt or after Close.
type Broker interface {
	// Connect opens the publish-capable and the consume-capable connections.
	Connect(ctx context.Context) error

	// Publish sends one envelope and returns after the broker acknowledged it.
	Publish(ctx context.Context, topic string, env Envelope) error

	// Subscribe registers interest in a topic without delivering anything yet.
	Subscribe(ctx context.Context, topic string) error

	// Consume delivers messages from every subscribed topic to handler until
	// ctx is cancelled (nil) or the transport fails (non-nil). Messages of one
	// partition are delivered sequentially, in broker order.
	Consume(ctx context.Context, handler Handler) error

	Close() error
}
