// Package node implements the graph node: it owns a slot configuration,
// keeps concrete data slots in sync with it and resolves inherited slot types.
package node

import (
	"fmt"

	"github.com/google/uuid"

	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// Event describes why a node notified its listeners.
type Event int

const (
	// SlotsChanged is raised after the concrete slots were resynchronized.
	SlotsChanged Event = iota
	// SlotTypesChanged is raised after type inheritance changed an accepted type.
	SlotTypesChanged
)

// Listener observes structural changes of a node.
type Listener interface {
	NodeChanged(n *Node, e Event)
}

// Option configures a Node.
type Option func(*Node)

// WithID sets the node identifier. By default a random UUID is used.
func WithID(id string) Option {
	return func(n *Node) { n.id = id }
}

// WithName sets the custom display name.
func WithName(name string) Option {
	return func(n *Node) { n.customName = name }
}

// WithDescription sets the custom description.
func WithDescription(description string) Option {
	return func(n *Node) { n.customDescription = description }
}

// WithTypes sets the type checker used when the node resolves inherited
// types on its own, outside of a graph.
func WithTypes(types TypeChecker) Option {
	return func(n *Node) { n.types = types }
}

// WithParameterSlot designates an input slot as the parameter slot.
func WithParameterSlot(name string) Option {
	return func(n *Node) { n.parameterSlot = name }
}

// Node is a processing step in a graph.
type Node struct {
	id                string
	typeID            string
	config            *slot.Configuration
	inputs            []*slot.DataSlot
	outputs           []*slot.DataSlot
	customName        string
	customDescription string
	parameterSlot     string
	types             TypeChecker
	listeners         []Listener
}

// New creates a node of the given type and takes ownership of cfg.
func New(typeID string, cfg *slot.Configuration, opts ...Option) *Node {
	if cfg == nil {
		cfg = slot.NewConfiguration()
	}
	n := &Node{
		id:     uuid.NewString(),
		typeID: typeID,
		config: cfg,
	}
	for _, opt := range opts {
		opt(n)
	}
	cfg.SetListener(n)
	n.resync()
	n.UpdateSlotInheritance(nil, n.types)
	return n
}

// ID returns the unique node identifier.
func (n *Node) ID() string { return n.id }

// TypeID returns the node type identifier.
func (n *Node) TypeID() string { return n.typeID }

// Configuration returns the slot configuration owned by the node.
func (n *Node) Configuration() *slot.Configuration { return n.config }

// Name returns the custom name, or the type identifier if none is set.
func (n *Node) Name() string {
	if n.customName != "" {
		return n.customName
	}
	return n.typeID
}

// CustomName returns the custom name.
func (n *Node) CustomName() string { return n.customName }

// SetCustomName sets the custom name.
func (n *Node) SetCustomName(name string) { n.customName = name }

// Description returns the custom description.
func (n *Node) Description() string { return n.customDescription }

// SetDescription sets the custom description.
func (n *Node) SetDescription(description string) { n.customDescription = description }

// ParameterSlot returns the name of the parameter slot, if any.
func (n *Node) ParameterSlot() string { return n.parameterSlot }

// SetParameterSlot designates the parameter slot. An empty name clears it.
func (n *Node) SetParameterSlot(name string) { n.parameterSlot = name }

// AddListener registers a listener.
func (n *Node) AddListener(l Listener) {
	n.listeners = append(n.listeners, l)
}

// RemoveListener unregisters a listener.
func (n *Node) RemoveListener(l Listener) {
	for i, existing := range n.listeners {
		if existing == l {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *Node) emit(e Event) {
	for _, l := range n.listeners {
		l.NodeChanged(n, e)
	}
}

// SlotConfigurationChanged implements slot.Listener. Inherited types are
// first resolved from the node's own inputs; a graph listening for
// SlotsChanged then resolves them against its edges.
func (n *Node) SlotConfigurationChanged(*slot.Configuration) {
	n.resync()
	n.UpdateSlotInheritance(nil, n.types)
	n.emit(SlotsChanged)
}

// resync rebuilds the concrete slot lists from the configuration, reusing
// instances whose definition did not change.
func (n *Node) resync() {
	n.inputs = n.resyncDirection(n.inputs, n.config.InputSlots())
	n.outputs = n.resyncDirection(n.outputs, n.config.OutputSlots())
}

func (n *Node) resyncDirection(existing []*slot.DataSlot, defs []slot.Definition) []*slot.DataSlot {
	byName := make(map[string]*slot.DataSlot, len(existing))
	for _, s := range existing {
		byName[s.Name()] = s
	}
	result := make([]*slot.DataSlot, 0, len(defs))
	for _, def := range defs {
		if s, ok := byName[def.Name]; ok && s.Definition().SameAs(def) {
			result = append(result, s)
			continue
		}
		result = append(result, slot.NewDataSlot(def, n.id))
	}
	return result
}

// InputSlots returns the input slots in configuration order.
func (n *Node) InputSlots() []*slot.DataSlot {
	return append([]*slot.DataSlot(nil), n.inputs...)
}

// OutputSlots returns the output slots in configuration order.
func (n *Node) OutputSlots() []*slot.DataSlot {
	return append([]*slot.DataSlot(nil), n.outputs...)
}

// InputSlot returns the named input slot.
func (n *Node) InputSlot(name string) (*slot.DataSlot, error) {
	if s := find(n.inputs, name); s != nil {
		return s, nil
	}
	if find(n.outputs, name) != nil {
		return nil, slotErrors.SlotError(slotErrors.ErrWrongSlotDirection, n.Name(), name, "slot is an output slot")
	}
	return nil, slotErrors.SlotError(slotErrors.ErrSlotNotFound, n.Name(), name, "no such input slot")
}

// OutputSlot returns the named output slot.
func (n *Node) OutputSlot(name string) (*slot.DataSlot, error) {
	if s := find(n.outputs, name); s != nil {
		return s, nil
	}
	if find(n.inputs, name) != nil {
		return nil, slotErrors.SlotError(slotErrors.ErrWrongSlotDirection, n.Name(), name, "slot is an input slot")
	}
	return nil, slotErrors.SlotError(slotErrors.ErrSlotNotFound, n.Name(), name, "no such output slot")
}

// Owns reports whether s is one of the node's current slots.
func (n *Node) Owns(s *slot.DataSlot) bool {
	for _, own := range n.inputs {
		if own == s {
			return true
		}
	}
	for _, own := range n.outputs {
		if own == s {
			return true
		}
	}
	return false
}

// FirstInputSlot returns the first input slot, or nil.
func (n *Node) FirstInputSlot() *slot.DataSlot {
	if len(n.inputs) == 0 {
		return nil
	}
	return n.inputs[0]
}

// FirstOutputSlot returns the first output slot, or nil.
func (n *Node) FirstOutputSlot() *slot.DataSlot {
	if len(n.outputs) == 0 {
		return nil
	}
	return n.outputs[0]
}

// DataInputSlots returns the input slots that take part in batch matching,
// i.e. all inputs except the parameter slot.
func (n *Node) DataInputSlots() []*slot.DataSlot {
	result := make([]*slot.DataSlot, 0, len(n.inputs))
	for _, s := range n.inputs {
		if n.parameterSlot != "" && s.Name() == n.parameterSlot {
			continue
		}
		result = append(result, s)
	}
	return result
}

// ClearData removes all rows from every slot.
func (n *Node) ClearData() {
	for _, s := range n.inputs {
		s.Clear()
	}
	for _, s := range n.outputs {
		s.Clear()
	}
}

// Duplicate returns a copy of the node with a new identifier, a copied
// configuration and no data. Listeners are not copied.
func (n *Node) Duplicate() *Node {
	return New(n.typeID, n.config.Copy(),
		WithName(n.customName),
		WithDescription(n.customDescription),
		WithParameterSlot(n.parameterSlot),
		WithTypes(n.types),
	)
}

// String returns a short description for logs.
func (n *Node) String() string {
	return fmt.Sprintf("%s (%s)", n.Name(), n.id)
}

func find(slots []*slot.DataSlot, name string) *slot.DataSlot {
	for _, s := range slots {
		if s.Name() == name {
			return s
		}
	}
	return nil
}
