package mock

import (
	"context"
	"sync"

	"github.com/miladsoleymani/jobrelay/core"
)

// Broker is a test double for core.Broker.
type Broker struct {
	mu         sync.Mutex
	published  []PublishedMessage
	subscribed []string
	handler    core.Handler
	consuming  chan struct{}

	// ConnectErrs are returned by successive Connect calls; once exhausted
	// Connect succeeds.
	ConnectErrs  []error
	SubscribeErr map[string]error
	PublishErr   error
	CloseErr     error
	// ConsumeErr, when set, is returned by Consume right after it starts.
	ConsumeErr error

	connects int
	closes   int
}

// PublishedMessage records a message sent through Publish.
type PublishedMessage struct {
	Topic    string
	Envelope core.Envelope
}

func NewBroker() *Broker {
	return &Broker{
		SubscribeErr: make(map[string]error),
		consuming:    make(chan struct{}),
	}
}

func (b *Broker) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if len(b.ConnectErrs) > 0 {
		err := b.ConnectErrs[0]
		b.ConnectErrs = b.ConnectErrs[1:]
		return err
	}
	return nil
}

func (b *Broker) Publish(_ context.Context, topic string, env core.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, PublishedMessage{Topic: topic, Envelope: env})
	return nil
}

func (b *Broker) Subscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.SubscribeErr[topic]; err != nil {
		return err
	}
	b.subscribed = append(b.subscribed, topic)
	return nil
}

// Consume stores the handler for Deliver and blocks until ctx is cancelled
// (simulates a real consume loop).
func (b *Broker) Consume(ctx context.Context, handler core.Handler) error {
	b.mu.Lock()
	b.handler = handler
	err := b.ConsumeErr
	b.mu.Unlock()
	close(b.consuming)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return b.CloseErr
}

// Consuming is closed once Consume has been entered.
func (b *Broker) Consuming() <-chan struct{} { return b.consuming }

// Deliver simulates an incoming message by invoking the consume handler
// synchronously.
func (b *Broker) Deliver(ctx context.Context, msg core.Message) error {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return core.ErrNoHandler
	}
	h(ctx, msg)
	return nil
}

// Published returns all messages sent via Publish.
func (b *Broker) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribed returns the topics subscribed so far, in call order.
func (b *Broker) Subscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.subscribed))
	copy(out, b.subscribed)
	return out
}

// Connects reports how many times Connect was called.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Closes reports how many times Close was called.
func (b *Broker) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}
