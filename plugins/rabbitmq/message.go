package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/jobrelay/core"
)

// message adapts an amqp.Delivery to core.Message.
type message struct {
	queue    string
	delivery amqp.Delivery
	requeue  bool
}

func (m *message) Topic() string        { return m.queue }
func (m *message) Partition() int       { return 0 }
func (m *message) Value() []byte        { return m.delivery.Body }
func (m *message) Timestamp() time.Time { return m.delivery.Timestamp }

func (m *message) Key() []byte {
	if k, ok := m.delivery.Headers[core.HeaderKey].(string); ok && k != "" {
		return []byte(k)
	}
	return nil
}

func (m *message) Headers() map[string]string {
	h := make(map[string]string, len(m.delivery.Headers))
	for k, v := range m.delivery.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	return h
}

// Ack acknowledges the message, removing it from the queue.
func (m *message) Ack() error {
	if err := m.delivery.Ack(false); err != nil {
		return fmt.Errorf("jobrelay/rabbitmq: ack: %w", err)
	}
	return nil
}

// Nack negatively acknowledges the message. If requeue is enabled,
// the message is returned to the queue for redelivery.
func (m *message) Nack() error {
	if err := m.delivery.Nack(false, m.requeue); err != nil {
		return fmt.Errorf("jobrelay/rabbitmq: nack: %w", err)
	}
	return nil
}

// toPublishing builds an AMQP publishing from an envelope.
func toPublishing(env core.Envelope, now time.Time) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range env.Headers {
		headers[k] = v
	}
	if len(env.Key) > 0 {
		headers[core.HeaderKey] = string(env.Key)
	}
	return amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Headers[core.HeaderMessageID],
		Timestamp:    now,
		Body:         env.Value,
	}
}
