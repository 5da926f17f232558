package node

import (
	"fmt"
	"sort"
	"sync"

	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// SlotBuilder returns a fresh default slot configuration for a node type.
type SlotBuilder func() *slot.Configuration

// TypeInfo describes a node type.
type TypeInfo struct {
	ID          string
	Name        string
	Description string
	Slots       SlotBuilder
}

// TypeRegistry maps node type identifiers to their default slot layout.
// Registration is explicit.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]TypeInfo
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]TypeInfo)}
}

// Register adds a node type.
func (r *TypeRegistry) Register(info TypeInfo) error {
	if info.ID == "" {
		return fmt.Errorf("node type id is required")
	}
	if info.Slots == nil {
		return fmt.Errorf("node type %q has no slot builder", info.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[info.ID]; exists {
		return fmt.Errorf("node type %q is already registered", info.ID)
	}
	r.types[info.ID] = info
	return nil
}

// Lookup returns the registered type.
func (r *TypeRegistry) Lookup(typeID string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[typeID]
	return info, ok
}

// New creates a node with the default slot configuration of typeID.
func (r *TypeRegistry) New(typeID string, opts ...Option) (*Node, error) {
	info, ok := r.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", slotErrors.ErrUnknownNodeType, typeID)
	}
	return New(typeID, info.Slots(), opts...), nil
}

// Types returns all registered types sorted by identifier.
func (r *TypeRegistry) Types() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]TypeInfo, 0, len(r.types))
	for _, info := range r.types {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
