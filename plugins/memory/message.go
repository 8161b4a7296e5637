package memory

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/miladsoleymani/jobrelay/core"
)

// delivery adapts a watermill message to core.Message.
type delivery struct {
	topic string
	msg   *message.Message
}

func (d *delivery) Topic() string  { return d.topic }
func (d *delivery) Partition() int { return 0 }
func (d *delivery) Value() []byte  { return d.msg.Payload }

func (d *delivery) Key() []byte {
	if k := d.msg.Metadata.Get(core.HeaderKey); k != "" {
		return []byte(k)
	}
	return nil
}

func (d *delivery) Headers() map[string]string {
	h := make(map[string]string, len(d.msg.Metadata))
	for k, v := range d.msg.Metadata {
		if k != metaSeq {
			h[k] = v
		}
	}
	return h
}

func (d *delivery) Timestamp() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, d.msg.Metadata.Get(core.HeaderTimestamp))
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Ack releases the next message of the topic.
func (d *delivery) Ack() error {
	d.msg.Ack()
	return nil
}

// Nack makes the GoChannel redeliver the message.
func (d *delivery) Nack() error {
	d.msg.Nack()
	return nil
}
