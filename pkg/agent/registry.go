package agent

import (
	"sort"
	"sync/atomic"
)

// Registry is an immutable name→Tool mapping. Mid-conversation changes
// go through RegistryHolder.Replace, never by mutating an existing
// registry, so an in-flight execute sees either the old set or the new
// set and nothing in between.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(tools ...Tool) *Registry {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// List returns all tools in stable name order.
func (r *Registry) List() []Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, len(names))
	for i, name := range names {
		out[i] = r.tools[name]
	}
	return out
}

// RegistryHolder publishes the active registry through an atomic
// pointer. Replace is a single pointer swap.
type RegistryHolder struct {
	current atomic.Pointer[Registry]
}

// NewRegistryHolder creates a holder with an initial registry.
func NewRegistryHolder(initial *Registry) *RegistryHolder {
	h := &RegistryHolder{}
	h.current.Store(initial)
	return h
}

// Load returns the currently published registry.
func (h *RegistryHolder) Load() *Registry {
	return h.current.Load()
}

// Replace atomically swaps in a new registry.
func (h *RegistryHolder) Replace(r *Registry) {
	h.current.Store(r)
}
