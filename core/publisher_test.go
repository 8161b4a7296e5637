package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/internal/mock"
)

func connectedPublisher(t *testing.T, mb *mock.Broker, obs core.PublishObserver) *core.Publisher {
	t.Helper()
	conn := core.NewConnection(mb, core.NoRetry(), nil)
	require.NoError(t, conn.Connect(context.Background()))
	return core.NewPublisher(conn, nil, obs)
}

func TestPublisher_NotConnected(t *testing.T) {
	mb := mock.NewBroker()
	conn := core.NewConnection(mb, core.NoRetry(), nil)
	p := core.NewPublisher(conn, nil, nil)

	err := p.Publish(context.Background(), "jobs", "payload")

	var nc *core.NotConnectedError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, core.StateDisconnected, nc.State)
	assert.ErrorIs(t, err, core.ErrNotConnected)
	assert.Empty(t, mb.Published())
	assert.Equal(t, 0, mb.Connects())
}

func TestPublisher_StringSentAsIs(t *testing.T) {
	mb := mock.NewBroker()
	p := connectedPublisher(t, mb, nil)

	require.NoError(t, p.Publish(context.Background(), "jobs", `{"raw":true}`))

	pubs := mb.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "jobs", pubs[0].Topic)
	assert.Equal(t, `{"raw":true}`, string(pubs[0].Envelope.Value))
	assert.Nil(t, pubs[0].Envelope.Key)
	assert.NotEmpty(t, pubs[0].Envelope.Headers[core.HeaderMessageID])
}

func TestPublisher_StructIsJSONEncodedWithKey(t *testing.T) {
	mb := mock.NewBroker()
	p := connectedPublisher(t, mb, nil)

	payload := map[string]any{"jobId": "etl-1-2", "status": "STARTED"}
	require.NoError(t, p.Publish(context.Background(), "status", payload,
		core.WithKey("etl-1-2"),
		core.WithHeader("source", "test"),
	))

	pubs := mb.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, []byte("etl-1-2"), pubs[0].Envelope.Key)
	assert.Equal(t, "test", pubs[0].Envelope.Headers["source"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(pubs[0].Envelope.Value, &got))
	assert.Equal(t, "STARTED", got["status"])
}

func TestPublisher_TransportFailure(t *testing.T) {
	mb := mock.NewBroker()
	p := connectedPublisher(t, mb, nil)
	boom := errors.New("leader not available")
	mb.PublishErr = boom

	err := p.Publish(context.Background(), "jobs", "x")

	var pe *core.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "jobs", pe.Topic)
	assert.ErrorIs(t, err, boom)
}

func TestPublisher_EmptyTopic(t *testing.T) {
	p := connectedPublisher(t, mock.NewBroker(), nil)
	assert.ErrorIs(t, p.Publish(context.Background(), "", "x"), core.ErrTopicRequired)
}

func TestPublisher_UnencodablePayload(t *testing.T) {
	mb := mock.NewBroker()
	p := connectedPublisher(t, mb, nil)

	err := p.Publish(context.Background(), "jobs", make(chan int))

	var pe *core.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, mb.Published())
}

type recordingObserver struct {
	mu     sync.Mutex
	topics []string
	errs   []error
}

func (o *recordingObserver) MessagePublished(topic string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.topics = append(o.topics, topic)
	o.errs = append(o.errs, err)
}

func TestPublisher_Observer(t *testing.T) {
	mb := mock.NewBroker()
	obs := &recordingObserver{}
	p := connectedPublisher(t, mb, obs)

	require.NoError(t, p.Publish(context.Background(), "jobs", "a"))
	mb.PublishErr = errors.New("down")
	require.Error(t, p.Publish(context.Background(), "jobs", "b"))

	assert.Equal(t, []string{"jobs", "jobs"}, obs.topics)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"raw json", json.RawMessage(`{"a":1}`), `{"a":1}`},
		{"nil", nil, "null"},
		{"struct", struct {
			JobID string `json:"jobId"`
		}{"etl-1-1"}, `{"jobId":"etl-1-1"}`},
		{"number", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := core.EncodePayload(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestJSONBinder(t *testing.T) {
	var v struct {
		JobID string `json:"jobId"`
	}
	b := core.JSONBinder{}

	require.NoError(t, b.Bind([]byte(`{"jobId":"etl-1-1"}`), &v))
	assert.Equal(t, "etl-1-1", v.JobID)
	assert.ErrorIs(t, b.Bind(nil, &v), core.ErrEmptyPayload)
	assert.Error(t, b.Bind([]byte(`{`), &v))

	var calls int
	custom := core.BinderFunc(func([]byte, any) error { calls++; return nil })
	require.NoError(t, custom.Bind([]byte("x"), &v))
	assert.Equal(t, 1, calls)
}
