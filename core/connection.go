package core

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Connection owns the broker connections and their ConnectionState. It is the
// only writer of that state; everyone else reads it through State before
// performing I/O.
type Connection struct {
	broker Broker
	retry  RetryPolicy
	logger *zap.Logger

	flight singleflight.Group
	opMu   sync.Mutex // serializes connect and disconnect transitions

	mu    sync.RWMutex
	state ConnectionState
	// abort cancels the connect attempt in flight, nil when none is.
	abort context.CancelFunc
}

// NewConnection creates a Connection in the Disconnected state.
func NewConnection(b Broker, retry RetryPolicy, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{broker: b, retry: retry, logger: logger}
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Broker returns the underlying transport.
func (c *Connection) Broker() Broker { return c.broker }

// Connect establishes the producer and consumer connections. Concurrent calls
// share one attempt; calling it when already connected returns nil.
//
// The shared attempt is bounded by the retry policy, not by any caller's ctx:
// each caller stops waiting when its own ctx ends. Disconnect aborts it.
func (c *Connection) Connect(ctx context.Context) error {
	if c.broker == nil {
		return ErrNoBroker
	}
	if c.State() == StateConnected {
		return nil
	}

	ch := c.flight.DoChan("connect", func() (any, error) {
		attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()

		c.mu.Lock()
		c.abort = cancel
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.abort = nil
			c.mu.Unlock()
		}()

		return nil, c.connect(attemptCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == StateConnected {
		return nil
	}
	c.setState(StateConnecting)

	attempts := 0
	notify := func(err error, next time.Duration) {
		c.logger.Warn("broker connect failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, c.broker.Connect(ctx)
	}, c.retry.options(notify)...)
	if err != nil {
		c.setState(StateDisconnected)
		c.logger.Error("broker connect failed", zap.Int("attempts", attempts), zap.Error(err))
		return &ConnectionError{Attempts: attempts, Err: err}
	}

	c.setState(StateConnected)
	c.logger.Info("broker connected", zap.Int("attempts", attempts))
	return nil
}

// Disconnect closes both connections. It is a no-op when already
// disconnected. Close failures and an expired ctx are logged, not returned;
// the state always ends Disconnected. A connect attempt still retrying is
// aborted first.
func (c *Connection) Disconnect(ctx context.Context) {
	c.mu.RLock()
	abort := c.abort
	c.mu.RUnlock()
	if abort != nil {
		abort()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == StateDisconnected {
		c.logger.Debug("broker already disconnected")
		return
	}
	c.setState(StateDisconnecting)

	done := make(chan error, 1)
	go func() { done <- c.broker.Close() }()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Error("broker disconnect failed", zap.Error(err))
		} else {
			c.logger.Info("broker disconnected")
		}
	case <-ctx.Done():
		c.logger.Warn("broker disconnect did not finish within grace period", zap.Error(ctx.Err()))
	}
	c.setState(StateDisconnected)
}
