package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a backend from options. Factories fail when a
// required option is missing or does not resolve.
type Factory func(opts Options) (Backend, error)

// Registry maps backend names to factories. Registration is explicit:
// the process wires every backend it supports at startup, there is no
// dynamic discovery.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Open constructs a backend by registry name.
func (r *Registry) Open(name string, opts Options) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", name, ErrNotFound)
	}
	return f(opts)
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
