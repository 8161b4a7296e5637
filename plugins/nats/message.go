package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/jobrelay/core"
)

// message adapts a JetStream message to core.Message. The partition is
// always 0; the key travels in the message-key header.
type message struct {
	msg jetstream.Msg
}

func (m *message) Topic() string  { return m.msg.Subject() }
func (m *message) Partition() int { return 0 }
func (m *message) Value() []byte  { return m.msg.Data() }

func (m *message) Key() []byte {
	if k := m.msg.Headers().Get(core.HeaderKey); k != "" {
		return []byte(k)
	}
	return nil
}

func (m *message) Timestamp() time.Time {
	md, err := m.msg.Metadata()
	if err != nil {
		return time.Time{}
	}
	return md.Timestamp
}

func (m *message) Headers() map[string]string {
	raw := m.msg.Headers()
	h := make(map[string]string, len(raw))
	for k, v := range raw {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	return h
}

// Ack acknowledges the message, marking it as processed.
func (m *message) Ack() error {
	if err := m.msg.Ack(); err != nil {
		return fmt.Errorf("jobrelay/nats: ack: %w", err)
	}
	return nil
}

// Nack signals that the message could not be processed.
// The server will redeliver it according to the consumer's MaxDeliver setting.
func (m *message) Nack() error {
	if err := m.msg.Nak(); err != nil {
		return fmt.Errorf("jobrelay/nats: nack: %w", err)
	}
	return nil
}
