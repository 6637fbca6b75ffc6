// Package registry maps service type names to core.Service implementations.
//
// A Registry is populated once at startup and sealed before the dispatcher
// starts serving. After Seal it is read-only, so lookups need no coordination
// with registration.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/xweb/core"
)

var (
	// ErrSealed is returned when registering into a sealed registry.
	ErrSealed = errors.New("registry is sealed")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("service already registered")
)

// Registry is a name → Service table.
type Registry struct {
	mu       sync.RWMutex
	services map[string]core.Service
	sealed   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]core.Service)}
}

// Register adds a service under name.
func (r *Registry) Register(name string, svc core.Service) error {
	if name == "" {
		return fmt.Errorf("register service: empty name")
	}
	if svc == nil {
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register service %s: %w", name, ErrSealed)
	}
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("register service %s: %w", name, ErrDuplicate)
	}
	r.services[name] = svc
	return nil
}

// MustRegister is Register that panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(name string, svc core.Service) {
	if err := r.Register(name, svc); err != nil {
		panic(err)
	}
}

// Resolve returns the service registered under name.
func (r *Registry) Resolve(name string) (core.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the sorted registered service names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seal freezes the registry. Further Register calls fail with ErrSealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}
