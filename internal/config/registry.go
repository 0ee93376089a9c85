package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/visage/pkg/provider/inference"
)

// ErrBackendNotRegistered is returned by [Registry.CreateLoader] when no
// factory has been registered under the configured backend name.
var ErrBackendNotRegistered = errors.New("config: inference backend not registered")

// LoaderFactory builds an inference.Loader from the model settings. Factories
// perform any one-time backend setup, such as loading a shared library.
type LoaderFactory func(ModelConfig) (inference.Loader, error)

// Registry maps inference backend names to loader factories. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]LoaderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]LoaderFactory)}
}

// RegisterBackend registers a loader factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory LoaderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Backends returns the registered backend names, sorted.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateLoader instantiates the loader registered under m.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateLoader(m ModelConfig) (inference.Loader, error) {
	r.mu.RLock()
	factory, ok := r.backends[m.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotRegistered, m.Backend, r.Backends())
	}
	l, err := factory(m)
	if err != nil {
		return nil, fmt.Errorf("config: create %q loader: %w", m.Backend, err)
	}
	return l, nil
}
