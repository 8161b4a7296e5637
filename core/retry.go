package core

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how Connection retries a failed Broker.Connect.
// Delays grow exponentially from InitialDelay by Multiplier, capped at
// MaxDelay. MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// DefaultRetryPolicy returns 10 retries starting at 300ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 300 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxRetries:   10,
	}
}

// NoRetry returns a policy that fails on the first error.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	return b
}

func (p RetryPolicy) options(notify backoff.Notify) []backoff.RetryOption {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(retries) + 1),
		backoff.WithNotify(notify),
	}
}
