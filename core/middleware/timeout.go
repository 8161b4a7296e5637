package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/jobrelay/core"
)

// Timeout bounds each handler invocation with a deadline. The handler sees
// the deadline through c.Context() and should return once it is exceeded.
// A zero or negative d disables the limit.
func Timeout(d time.Duration) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(c core.Context) error {
			ctx, cancel := context.WithTimeout(c.Context(), d)
			defer cancel()
			c.SetContext(ctx)
			return next(c)
		}
	}
}
