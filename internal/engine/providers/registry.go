package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quillchat/quill/internal/engine"
)

// Registry routes provider names to adapters. It satisfies engine.Resolver.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]engine.ProviderAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]engine.ProviderAdapter)}
}

// Register adds an adapter under its own name, replacing any previous
// registration.
func (r *Registry) Register(adapter engine.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns the adapter serving the provider. The model rides along
// for error context; model-level routing happens inside each adapter.
func (r *Registry) Resolve(provider, model string) (engine.ProviderAdapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (model %q)", engine.ErrNoAdapter, provider, model)
	}
	return adapter, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
