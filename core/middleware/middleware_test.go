package middleware_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/core/middleware"
	"github.com/miladsoleymani/jobrelay/internal/mock"
)

func newContext(topic string) core.Context {
	msg := &mock.Message{T: topic, K: []byte("test-key"), V: []byte("val")}
	return core.NewContext(context.Background(), msg, nil, core.JSONBinder{})
}

func TestLogging(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)
	handler := middleware.Logging(zap.New(obsCore))(func(core.Context) error {
		return nil
	})

	require.NoError(t, handler(newContext("jobs")))

	entries := logs.FilterMessage("message processed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "test-key", entries[0].ContextMap()["key"])
	assert.Equal(t, "jobs", entries[0].ContextMap()["topic"])
}

func TestLogging_Error(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)
	boom := errors.New("boom")
	handler := middleware.Logging(zap.New(obsCore))(func(core.Context) error {
		return boom
	})

	assert.ErrorIs(t, handler(newContext("jobs")), boom)
	assert.Equal(t, 1, logs.FilterMessage("message processing failed").Len())
}

func TestRecovery(t *testing.T) {
	obsCore, logs := observer.New(zapcore.ErrorLevel)
	handler := middleware.Recovery(zap.New(obsCore))(func(core.Context) error {
		panic("test panic")
	})

	err := handler(newContext("jobs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic recovered")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := middleware.Recovery(nil)(func(core.Context) error {
		return nil
	})
	assert.NoError(t, handler(newContext("jobs")))
}

type collector struct {
	mu     sync.Mutex
	topics []string
	errs   []error
}

func (c *collector) MessageProcessed(topic string, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.errs = append(c.errs, err)
}

func TestMetrics(t *testing.T) {
	col := &collector{}
	fail := errors.New("fail")
	mw := middleware.Metrics(col)

	require.NoError(t, mw(func(core.Context) error { return nil })(newContext("jobs")))
	require.Error(t, mw(func(core.Context) error { return fail })(newContext("status")))

	assert.Equal(t, []string{"jobs", "status"}, col.topics)
	assert.NoError(t, col.errs[0])
	assert.ErrorIs(t, col.errs[1], fail)
}

func TestMetrics_NilCollector(t *testing.T) {
	called := false
	h := middleware.Metrics(nil)(func(core.Context) error { called = true; return nil })

	require.NoError(t, h(newContext("jobs")))
	assert.True(t, called)
}

func TestTimeout(t *testing.T) {
	handler := middleware.Timeout(10 * time.Millisecond)(func(c core.Context) error {
		<-c.Context().Done()
		return c.Context().Err()
	})

	assert.ErrorIs(t, handler(newContext("jobs")), context.DeadlineExceeded)
}

func TestTimeout_Disabled(t *testing.T) {
	handler := middleware.Timeout(0)(func(c core.Context) error {
		_, ok := c.Context().Deadline()
		assert.False(t, ok)
		return nil
	})

	assert.NoError(t, handler(newContext("jobs")))
}
