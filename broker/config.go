package broker

import "go.uber.org/zap"

// Config holds transport-agnostic settings. Each plugin reads the fields it
// understands and ignores the rest.
type Config struct {
	// Brokers lists the broker addresses or URLs, e.g. "localhost:9092".
	Brokers []string

	// ClientID identifies this process to the broker.
	ClientID string

	// Group is the consumer group (durable consumer, queue prefix).
	Group string

	// Logger is passed down to transports that log. Nil means no logging.
	Logger *zap.Logger

	// Extra holds plugin-specific settings.
	Extra map[string]any
}

// Int returns Extra[key] as an int, or def if it is absent or of another type.
func (c Config) Int(key string, def int) int {
	if v, ok := c.Extra[key].(int); ok {
		return v
	}
	return def
}

// String returns Extra[key] as a string, or def.
func (c Config) String(key, def string) string {
	if v, ok := c.Extra[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bool returns Extra[key] as a bool, or def.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c.Extra[key].(bool); ok {
		return v
	}
	return def
}

// ZapLogger returns the configured logger or a no-op one.
func (c Config) ZapLogger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
