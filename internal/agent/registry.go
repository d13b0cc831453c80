package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent identifiers to runtimes. It is constructed once at
// process start and passed down explicitly; there is no package-level
// default instance.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]*Runtime)}
}

// Register adds a runtime. Registering an existing id is an error so two
// specializations can never silently shadow each other.
func (r *Registry) Register(rt *Runtime) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runtimes[rt.ID()]; exists {
		return fmt.Errorf("agent %s already registered", rt.ID())
	}
	r.runtimes[rt.ID()] = rt
	return nil
}

// Resolve returns the runtime for the given agent id.
func (r *Registry) Resolve(id string) (*Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[id]
	return rt, ok
}

// List returns the registered agent ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runtimes))
	for id := range r.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
