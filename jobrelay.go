// Package jobrelay re-exports the core types so applications can write:
//
//	c := jobrelay.New(b)
//	c.Handle("bor-etl-jobs", handler)
//	c.Connect(ctx)
//	c.Start(ctx)
package jobrelay

import (
	"github.com/miladsoleymani/jobrelay/core"
)

type (
	Client         = core.Client
	Context        = core.Context
	HandlerFunc    = core.HandlerFunc
	MiddlewareFunc = core.MiddlewareFunc
	Message        = core.Message
	Broker         = core.Broker
	Option         = core.Option
	PublishOption  = core.PublishOption
	RetryPolicy    = core.RetryPolicy
)

var (
	WithLogger          = core.WithLogger
	WithRetryPolicy     = core.WithRetryPolicy
	WithBinder          = core.WithBinder
	WithPublishObserver = core.WithPublishObserver
	WithDeadLetterTopic = core.WithDeadLetterTopic
	WithKey             = core.WithKey
	WithHeader          = core.WithHeader
)

// New creates a Client bound to the given Broker.
func New(b Broker, opts ...Option) *Client {
	return core.New(b, opts...)
}
