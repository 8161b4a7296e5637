package mock

import (
	"sync"
	"time"
)

// Message is a simple core.Message implementation for testing.
type Message struct {
	T  string
	P  int
	K  []byte
	V  []byte
	H  map[string]string
	TS time.Time

	AckErr  error
	NackErr error

	mu     sync.Mutex
	acked  bool
	nacked bool
}

func (m *Message) Topic() string              { return m.T }
func (m *Message) Partition() int             { return m.P }
func (m *Message) Key() []byte                { return m.K }
func (m *Message) Value() []byte              { return m.V }
func (m *Message) Headers() map[string]string { return m.H }
func (m *Message) Timestamp() time.Time       { return m.TS }

func (m *Message) Ack() error {
	m.mu.Lock()
	m.acked = true
	m.mu.Unlock()
	return m.AckErr
}

func (m *Message) Nack() error {
	m.mu.Lock()
	m.nacked = true
	m.mu.Unlock()
	return m.NackErr
}

// Acked reports whether Ack was called.
func (m *Message) Acked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

// Nacked reports whether Nack was called.
func (m *Message) Nacked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nacked
}
