package broker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/jobrelay/broker"
	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/internal/mock"
)

func TestCreate(t *testing.T) {
	var got broker.Config
	broker.Register("test-mock", func(cfg broker.Config) (core.Broker, error) {
		got = cfg
		return mock.NewBroker(), nil
	})

	b, err := broker.Create("test-mock", broker.Config{Brokers: []string{"a:1"}, Group: "g"})
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, []string{"a:1"}, got.Brokers)
	assert.Equal(t, "g", got.Group)
	assert.Contains(t, broker.Names(), "test-mock")
}

func TestCreate_Unknown(t *testing.T) {
	_, err := broker.Create("does-not-exist", broker.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown broker "does-not-exist"`)
}

func TestCreate_FactoryError(t *testing.T) {
	boom := errors.New("bad config")
	broker.Register("test-failing", func(broker.Config) (core.Broker, error) {
		return nil, boom
	})

	_, err := broker.Create("test-failing", broker.Config{})
	assert.ErrorIs(t, err, boom)
}

func TestConfigExtra(t *testing.T) {
	cfg := broker.Config{Extra: map[string]any{
		"batch_size": 50,
		"exchange":   "jobs",
		"async":      true,
		"wrong_type": "x",
	}}

	assert.Equal(t, 50, cfg.Int("batch_size", 1))
	assert.Equal(t, 7, cfg.Int("wrong_type", 7))
	assert.Equal(t, 7, cfg.Int("missing", 7))
	assert.Equal(t, "jobs", cfg.String("exchange", ""))
	assert.Equal(t, "def", cfg.String("missing", "def"))
	assert.True(t, cfg.Bool("async", false))
	assert.NotNil(t, broker.Config{}.ZapLogger())
}
