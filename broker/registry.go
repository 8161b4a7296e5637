package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/jobrelay/core"
)

// Factory creates a Broker from the given Config. Factories must not perform
// network I/O; that happens in Broker.Connect.
type Factory func(cfg Config) (core.Broker, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named broker factory. Plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a broker by name using the registered factory.
func Create(name string, cfg Config) (core.Broker, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("jobrelay: unknown broker %q (registered: %v)", name, Names())
	}
	return f(cfg)
}

// Names returns the registered broker names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
