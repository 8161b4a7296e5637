package middleware

import (
	"time"

	"github.com/miladsoleymani/jobrelay/core"
)

// MetricsCollector receives one observation per handled message.
// *metrics.Collector implements it.
type MetricsCollector interface {
	MessageProcessed(topic string, duration time.Duration, err error)
}

// Metrics times each handler and reports the outcome by topic. A nil
// collector disables the middleware.
func Metrics(collector MetricsCollector) core.MiddlewareFunc {
	if collector == nil {
		return func(next core.HandlerFunc) core.HandlerFunc { return next }
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)
			collector.MessageProcessed(c.Topic(), time.Since(start), err)
			return err
		}
	}
}
