package core

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("jobrelay: broker is closed")

	// ErrNoHandler is returned when no handler matches the incoming topic.
	ErrNoHandler = errors.New("jobrelay: no handler registered for topic")

	// ErrAlreadyStarted is returned when Start is called on a router that has
	// already left the NotStarted state.
	ErrAlreadyStarted = errors.New("jobrelay: router already started")

	// ErrNoBroker is returned when a client is created without a broker.
	ErrNoBroker = errors.New("jobrelay: broker is nil")

	// ErrRegistrationClosed is returned by Handle once dispatch has started.
	ErrRegistrationClosed = errors.New("jobrelay: handler registration is closed")

	// ErrTopicRequired is returned when a topic name is empty.
	ErrTopicRequired = errors.New("jobrelay: topic is required")

	// ErrHandlerRequired is returned when a nil handler is registered.
	ErrHandlerRequired = errors.New("jobrelay: handler is required")

	// ErrNotConnected matches every *NotConnectedError via errors.Is.
	ErrNotConnected = errors.New("jobrelay: not connected")

	// ErrDispatchStopped is returned by Start when Stop won the race against
	// the subscribe phase.
	ErrDispatchStopped = errors.New("jobrelay: dispatch stopped")
)

// ConnectionError reports that the broker could not be reached within the
// retry policy. It is fatal to the process.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("jobrelay: connect failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionError reports that subscribing a topic failed and dispatch was
// aborted before consuming anything.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("jobrelay: subscribe %q: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// NotConnectedError is returned when an operation needs an established
// connection. No I/O was performed.
type NotConnectedError struct {
	Op    string
	State ConnectionState
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("jobrelay: %s: not connected (state %s)", e.Op, e.State)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// PublishError wraps a transport or encoding failure for a single publish.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("jobrelay: publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
