package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/broker"
	"github.com/miladsoleymani/jobrelay/core"
)

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil, "group")
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	b, err := New([]string{"localhost:9092"}, "bor-message-group")
	require.NoError(t, err)
	assert.IsType(t, &kafka.Hash{}, b.opts.balancer)
	assert.Equal(t, 10*time.Millisecond, b.opts.batchTimeout)
	assert.Equal(t, "jobrelay", b.opts.clientID)
	assert.Equal(t, kafka.LastOffset, b.opts.startOffset)
}

func TestRegisteredFactory(t *testing.T) {
	assert.Contains(t, broker.Names(), "kafka")

	cb, err := broker.Create("kafka", broker.Config{
		Brokers:  []string{"localhost:9092"},
		ClientID: "bor-message-client",
		Group:    "bor-message-group",
		Logger:   zap.NewNop(),
		Extra:    map[string]any{"batch_size": 10, "start_offset": "first"},
	})
	require.NoError(t, err)

	b := cb.(*Broker)
	assert.Equal(t, "bor-message-client", b.opts.clientID)
	assert.Equal(t, 10, b.opts.batchSize)
	assert.Equal(t, kafka.FirstOffset, b.opts.startOffset)
	assert.Equal(t, "bor-message-group", b.group)
}

func TestPublishBeforeConnect(t *testing.T) {
	b, err := New([]string{"localhost:9092"}, "")
	require.NoError(t, err)

	err = b.Publish(context.Background(), "jobs", core.Envelope{Value: []byte("x")})
	assert.ErrorIs(t, err, core.ErrBrokerClosed)
	assert.NoError(t, b.Close())
}

func TestHeaders(t *testing.T) {
	assert.Nil(t, toHeaders(nil))

	hs := toHeaders(map[string]string{"message-id": "abc"})
	require.Len(t, hs, 1)
	assert.Equal(t, "message-id", hs[0].Key)
	assert.Equal(t, []byte("abc"), hs[0].Value)

	got := fromHeaders([]kafka.Header{
		{Key: "a", Value: []byte("1")},
		{Key: "a", Value: []byte("2")},
	})
	assert.Equal(t, map[string]string{"a": "2"}, got)
}

func TestMessageAdapter(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := &message{raw: kafka.Message{
		Topic:     "bor-etl-jobs",
		Partition: 3,
		Key:       []byte("etl-1-1"),
		Value:     []byte("{}"),
		Time:      ts,
		Headers:   []kafka.Header{{Key: "h", Value: []byte("v")}},
	}}

	assert.Equal(t, "bor-etl-jobs", m.Topic())
	assert.Equal(t, 3, m.Partition())
	assert.Equal(t, []byte("etl-1-1"), m.Key())
	assert.Equal(t, ts, m.Timestamp())
	assert.Equal(t, "v", m.Headers()["h"])

	// Without a consumer group there is no offset to commit.
	assert.NoError(t, m.Ack())
	assert.NoError(t, m.Nack())
}
