package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/core"
)

// Logging returns middleware that logs message processing duration and errors.
// Successful messages are logged at debug level.
func Logging(logger *zap.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)

			fields := []zap.Field{
				zap.String("topic", c.Topic()),
				zap.ByteString("key", c.Key()),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				logger.Warn("message processing failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("message processed", fields...)
			}
			return err
		}
	}
}
