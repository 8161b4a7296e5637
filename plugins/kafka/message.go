package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// message adapts a kafka.Message to core.Message.
// It holds a reference to the reader for offset management.
type message struct {
	raw           kafka.Message
	reader        *kafka.Reader
	grouped       bool
	commitTimeout time.Duration
}

func (m *message) Topic() string        { return m.raw.Topic }
func (m *message) Partition() int       { return m.raw.Partition }
func (m *message) Key() []byte          { return m.raw.Key }
func (m *message) Value() []byte        { return m.raw.Value }
func (m *message) Timestamp() time.Time { return m.raw.Time }

func (m *message) Headers() map[string]string {
	return fromHeaders(m.raw.Headers)
}

// Ack commits the offset for this message. The commit uses its own deadline
// so that messages settled during shutdown are still committed.
// Without a consumer group there is nothing to commit.
func (m *message) Ack() error {
	if !m.grouped {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.commitTimeout)
	defer cancel()
	if err := m.reader.CommitMessages(ctx, m.raw); err != nil {
		return fmt.Errorf("jobrelay/kafka: commit offset: %w", err)
	}
	return nil
}

// Nack is a no-op for Kafka. Not committing the offset causes the message
// to be redelivered on the next consumer group rebalance or restart.
func (m *message) Nack() error {
	return nil
}

// toHeaders converts a string map to Kafka headers.
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// fromHeaders converts Kafka headers to a string map. A repeated key keeps
// its last value.
func fromHeaders(hs []kafka.Header) map[string]string {
	h := make(map[string]string, len(hs))
	for _, kh := range hs {
		h[kh.Key] = string(kh.Value)
	}
	return h
}
