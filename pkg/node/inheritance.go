package node

import (
	"github.com/wehubfusion/slotflow/pkg/datatype"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// GraphHandle is the topology a node needs to resolve inherited types.
type GraphHandle interface {
	// SourceOutputSlot returns the output slot connected to input, or nil.
	SourceOutputSlot(input *slot.DataSlot) *slot.DataSlot
	// DownstreamInputSlots returns the input slots connected to output.
	DownstreamInputSlots(output *slot.DataSlot) []*slot.DataSlot
	// NodeOf returns the node owning s, or nil.
	NodeOf(s *slot.DataSlot) *Node
}

// TypeChecker supplies the assignability relation between data types.
// *datatype.Registry implements it.
type TypeChecker interface {
	IsAssignable(from, to datatype.Handle) bool
}

// UpdateSlotInheritance recomputes the accepted type of every inheriting
// output slot. If any type changed and g is not nil, every node directly
// downstream is updated as well.
func (n *Node) UpdateSlotInheritance(g GraphHandle, types TypeChecker) {
	modified := false
	for _, out := range n.outputs {
		if out.SetAcceptedType(n.ExpectedOutputType(g, types, out)) {
			modified = true
		}
	}
	if !modified {
		return
	}
	n.emit(SlotTypesChanged)
	if g == nil {
		return
	}
	for _, out := range n.outputs {
		for _, in := range g.DownstreamInputSlots(out) {
			if next := g.NodeOf(in); next != nil {
				next.UpdateSlotInheritance(g, types)
			}
		}
	}
}

// ExpectedOutputType resolves the type an output slot should accept given
// the current topology. The declared type is returned whenever inheritance
// is disabled, the source input does not exist or the inherited type is
// not assignable to the declared one. With a nil g the source input's own
// accepted type is inherited. With nil types only identical types and the
// Any root are assignable.
func (n *Node) ExpectedOutputType(g GraphHandle, types TypeChecker, out *slot.DataSlot) datatype.Handle {
	def := out.Definition()
	if def.InheritedSlot == "" {
		return def.AcceptedType
	}

	var source *slot.DataSlot
	if def.InheritedSlot == slot.InheritFirstInput {
		source = n.FirstInputSlot()
	} else {
		source = find(n.inputs, def.InheritedSlot)
	}
	if source == nil {
		return def.AcceptedType
	}

	base := source.AcceptedType()
	if g != nil {
		if upstream := g.SourceOutputSlot(source); upstream != nil {
			base = upstream.AcceptedType()
		}
	}

	candidate := base
	if def.Conversion != nil {
		candidate = def.Conversion(base)
	}
	if types == nil {
		types = rootOnly{}
	}
	if !types.IsAssignable(candidate, def.AcceptedType) {
		return def.AcceptedType
	}
	return candidate
}

// rootOnly is the assignability every registry shares.
type rootOnly struct{}

func (rootOnly) IsAssignable(from, to datatype.Handle) bool {
	return from == to || to == datatype.Any
}
