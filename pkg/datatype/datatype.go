// Package datatype models the data types accepted by slots. Types are opaque
// comparable identifiers; the only relation the engine needs is assignability,
// which is supplied by a Registry.
package datatype

import (
	"fmt"
	"sort"
	"sync"
)

// Handle identifies a data type.
type Handle string

// Any is the root type. Every registered type is assignable to it.
const Any Handle = "any"

// Conversion maps an inherited type onto the type an output slot should accept.
type Conversion func(Handle) Handle

// Mapping returns a Conversion that replaces the types found in m and keeps
// every other type unchanged.
func Mapping(m map[Handle]Handle) Conversion {
	return func(h Handle) Handle {
		if converted, ok := m[h]; ok {
			return converted
		}
		return h
	}
}

// Registry stores the type hierarchy.
type Registry struct {
	mu      sync.RWMutex
	parents map[Handle][]Handle
}

// NewRegistry creates a registry containing only Any.
func NewRegistry() *Registry {
	return &Registry{
		parents: map[Handle][]Handle{Any: nil},
	}
}

// Register adds a type with its direct parent types. Types without parents
// derive from Any. Parents must be registered first.
func (r *Registry) Register(id Handle, parents ...Handle) error {
	if id == "" {
		return fmt.Errorf("type id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.parents[id]; exists {
		return fmt.Errorf("type %q is already registered", id)
	}
	for _, p := range parents {
		if _, ok := r.parents[p]; !ok {
			return fmt.Errorf("parent type %q of %q is not registered", p, id)
		}
	}
	if len(parents) == 0 && id != Any {
		parents = []Handle{Any}
	}
	r.parents[id] = append([]Handle(nil), parents...)
	return nil
}

// MustRegister is like Register but panics on error. Intended for package init.
func (r *Registry) MustRegister(id Handle, parents ...Handle) {
	if err := r.Register(id, parents...); err != nil {
		panic(err)
	}
}

// Known reports whether id is registered.
func (r *Registry) Known(id Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parents[id]
	return ok
}

// IsAssignable reports whether a value of type from can be used where type to
// is expected.
func (r *Registry) IsAssignable(from, to Handle) bool {
	if from == to || to == Any {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[Handle]bool)
	queue := []Handle{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, p := range r.parents[current] {
			if p == to {
				return true
			}
			queue = append(queue, p)
		}
	}
	return false
}

// Types returns every registered type, sorted.
func (r *Registry) Types() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Handle, 0, len(r.parents))
	for h := range r.parents {
		types = append(types, h)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Parents returns the direct parents of id.
func (r *Registry) Parents(id Handle) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Handle(nil), r.parents[id]...)
}
