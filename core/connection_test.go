package core_test

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
	"github.com/miladsoleymani/jobrelay/internal/mock"
)

func fastRetry(retries int) core.RetryPolicy {
	return core.RetryPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		MaxRetries:   retries,
	}
}

func TestConnection_Connect(t *testing.T) {
	mb := mock.NewBroker()
	conn := core.NewConnection(mb, core.NoRetry(), nil)
	assert.Equal(t, core.StateDisconnected, conn.State())

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, core.StateConnected, conn.State())

	// Connecting again is a no-op.
	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, 1, mb.Connects())
}

func TestConnection_RetriesUntilSuccess(t *testing.T) {
	mb := mock.NewBroker()
	mb.ConnectErrs = []error{errors.New("refused"), errors.New("refused")}
	conn := core.NewConnection(mb, fastRetry(3), nil)

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, 3, mb.Connects())
	assert.Equal(t, core.StateConnected, conn.State())
}

func TestConnection_RetriesExhausted(t *testing.T) {
	mb := mock.NewBroker()
	boom := errors.New("refused")
	mb.ConnectErrs = []error{boom, boom, boom}
	conn := core.NewConnection(mb, fastRetry(1), nil)

	err := conn.Connect(context.Background())
	var connErr *core.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, connErr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, core.StateDisconnected, conn.State())
}

func TestConnection_NoRetryFailsFast(t *testing.T) {
	mb := mock.NewBroker()
	mb.ConnectErrs = []error{errors.New("refused")}
	conn := core.NewConnection(mb, core.NoRetry(), nil)

	err := conn.Connect(context.Background())
	var connErr *core.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, connErr.Attempts)
	assert.Equal(t, 1, mb.Connects())
}

func TestConnection_NilBroker(t *testing.T) {
	conn := core.NewConnection(nil, core.NoRetry(), nil)
	assert.ErrorIs(t, conn.Connect(context.Background()), core.ErrNoBroker)
}

// gatedBroker blocks Connect until the gate is closed.
type gatedBroker struct {
	*mock.Broker
	gate chan struct{}
}

func (g *gatedBroker) Connect(ctx context.Context) error {
	<-g.gate
	return g.Broker.Connect(ctx)
}

func TestConnection_ConcurrentConnectSharesAttempt(t *testing.T) {
	gb := &gatedBroker{Broker: mock.NewBroker(), gate: make(chan struct{})}
	conn := core.NewConnection(gb, core.NoRetry(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- conn.Connect(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		return conn.State() == core.StateConnecting
	}, time.Second, time.Millisecond)
	close(gb.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, gb.Connects())
	assert.Equal(t, core.StateConnected, conn.State())
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	mb := mock.NewBroker()
	conn := core.NewConnection(mb, core.NoRetry(), nil)
	require.NoError(t, conn.Connect(context.Background()))

	conn.Disconnect(context.Background())
	assert.Equal(t, core.StateDisconnected, conn.State())

	conn.Disconnect(context.Background())
	assert.Equal(t, core.StateDisconnected, conn.State())
	assert.Equal(t, 1, mb.Closes())
}

func TestConnection_DisconnectNeverConnected(t *testing.T) {
	mb := mock.NewBroker()
	conn := core.NewConnection(mb, core.NoRetry(), nil)

	conn.Disconnect(context.Background())
	assert.Equal(t, 0, mb.Closes())
	assert.Equal(t, core.StateDisconnected, conn.State())
}

func TestConnection_DisconnectErrorIsLogged(t *testing.T) {
	obsCore, logs := observer.New(zapcore.ErrorLevel)
	mb := mock.NewBroker()
	mb.CloseErr = errors.New("close failed")
	conn := core.NewConnection(mb, core.NoRetry(), zap.New(obsCore))
	require.NoError(t, conn.Connect(context.Background()))

	conn.Disconnect(context.Background())

	assert.Equal(t, core.StateDisconnected, conn.State())
	assert.Equal(t, 1, logs.FilterMessage("broker disconnect failed").Len())
}

func TestConnection_ReconnectAfterDisconnect(t *testing.T) {
	mb := mock.NewBroker()
	conn := core.NewConnection(mb, core.NoRetry(), nil)
	require.NoError(t, conn.Connect(context.Background()))
	conn.Disconnect(context.Background())

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, core.StateConnected, conn.State())
	assert.Equal(t, 2, mb.Connects())
}

func TestConnection_DisconnectAbortsRetryingConnect(t *testing.T) {
	mb := mock.NewBroker()
	for range 20 {
		mb.ConnectErrs = append(mb.ConnectErrs, errors.New("refused"))
	}
	conn := core.NewConnection(mb, core.RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   1,
		MaxRetries:   15,
	}, nil)

	connErr := make(chan error, 1)
	go func() { connErr <- conn.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		return conn.State() == core.StateConnecting
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	conn.Disconnect(ctx)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, core.StateDisconnected, conn.State())

	select {
	case err := <-connErr:
		var ce *core.ConnectionError
		assert.ErrorAs(t, err, &ce)
	case <-time.After(time.Second):
		t.Fatal("connect still retrying after disconnect")
	}
}

func TestConnection_SharedAttemptOutlivesFirstCaller(t *testing.T) {
	gb := &gatedBroker{Broker: mock.NewBroker(), gate: make(chan struct{})}
	conn := core.NewConnection(gb, core.NoRetry(), nil)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() { firstErr <- conn.Connect(short) }()
	require.Eventually(t, func() bool {
		return conn.State() == core.StateConnecting
	}, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() { secondErr <- conn.Connect(context.Background()) }()

	assert.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	close(gb.gate)

	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, core.StateConnected, conn.State())
	assert.Equal(t, 1, gb.Connects())
}
