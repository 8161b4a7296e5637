package core

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps a topic to exactly one HandlerFunc.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register inserts or replaces the handler for topic. A replacement is logged
// as a warning; the last registration wins.
func (r *Registry) Register(topic string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[topic]; exists {
		r.logger.Warn("replacing handler for topic", zap.String("topic", topic))
	}
	r.handlers[topic] = h
	r.logger.Info("registered handler", zap.String("topic", topic))
}

// Lookup returns the handler registered for topic.
func (r *Registry) Lookup(topic string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[topic]
	return h, ok
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Snapshot returns a copy of the topic to handler mapping.
func (r *Registry) Snapshot() map[string]HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HandlerFunc, len(r.handlers))
	for k, v := range r.handlers {
		out[k] = v
	}
	return out
}
