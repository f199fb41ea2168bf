package provider

import (
	"fmt"
	"sort"
	"sync"
)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a provider Factory available under the given
// provider_prefix (e.g. "gh"). Typically called from an init()
// function or from config loading.
func Register(prefix string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[prefix] = f
}

// Get returns the Factory registered for prefix, or false if no
// provider is configured under that prefix — the ConfigurationMiss
// error kind of spec.md §7.
func Get(prefix string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[prefix]
	return f, ok
}

// Names returns the sorted list of registered provider prefixes.
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

// New constructs a Provider for prefix bound to spec, or an error
// wrapping ErrUnknownPrefix if prefix is not registered.
func New(prefix, spec string) (Provider, error) {
	f, ok := Get(prefix)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownPrefix, prefix, Names())
	}
	return f(prefix, spec)
}

// ErrUnknownPrefix is wrapped by New when no provider is registered
// under the requested prefix.
var ErrUnknownPrefix = fmt.Errorf("no provider registered for prefix")
