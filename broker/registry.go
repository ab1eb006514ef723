package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/eventbus/core"
)

// Factory creates a Bus from the given Config. ctx bounds connection setup.
type Factory func(ctx context.Context, cfg Config) (core.Bus, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named transport factory. Plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a transport by name using the registered factory.
func Create(ctx context.Context, name string, cfg Config) (core.Bus, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", core.ErrUnknownTransport, name, Names())
	}
	return f(ctx, cfg.WithDefaults())
}

// Names returns the registered transport names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
