// Package slot implements the slot model of a node: slot definitions, the
// ordered and sealable slot configuration, and data slots holding annotated rows.
package slot

import (
	"fmt"
	"strings"

	"github.com/wehubfusion/slotflow/pkg/datatype"
)

// Direction tells whether a slot receives or produces data.
type Direction int

const (
	Input Direction = iota
	Output
)

// InheritFirstInput is the inherited slot marker that selects the first input slot.
const InheritFirstInput = "*"

// String returns the lowercase name of the direction.
func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "input", "in":
		*d = Input
	case "output", "out":
		*d = Output
	default:
		return fmt.Errorf("unknown slot direction %q", string(text))
	}
	return nil
}

// Definition declares a slot.
type Definition struct {
	Name         string
	Direction    Direction
	AcceptedType datatype.Handle
	// InheritedSlot names the input slot this output inherits its type from.
	// Empty disables inheritance, InheritFirstInput selects the first input.
	InheritedSlot string
	// Conversion is applied to the inherited type.
	Conversion datatype.Conversion
}

// InputDefinition declares an input slot.
func InputDefinition(name string, accepted datatype.Handle) Definition {
	return Definition{Name: name, Direction: Input, AcceptedType: accepted}
}

// OutputDefinition declares an output slot, optionally inheriting its type.
func OutputDefinition(name string, accepted datatype.Handle, inheritedSlot string) Definition {
	return Definition{Name: name, Direction: Output, AcceptedType: accepted, InheritedSlot: inheritedSlot}
}

// WithConversion returns a copy of d with the inheritance conversion set.
func (d Definition) WithConversion(c datatype.Conversion) Definition {
	d.Conversion = c
	return d
}

// Inherits reports whether the slot derives its type from an input slot.
func (d Definition) Inherits() bool {
	return d.Direction == Output && d.InheritedSlot != ""
}

// SameAs reports whether two definitions describe the same slot. Conversion
// functions are compared by presence only.
func (d Definition) SameAs(o Definition) bool {
	return d.Name == o.Name &&
		d.Direction == o.Direction &&
		d.AcceptedType == o.AcceptedType &&
		d.InheritedSlot == o.InheritedSlot &&
		(d.Conversion == nil) == (o.Conversion == nil)
}

// Entry is the serialized form of a Definition.
type Entry struct {
	Name          string          `json:"name" yaml:"name"`
	Direction     Direction       `json:"direction" yaml:"direction"`
	TypeID        datatype.Handle `json:"typeId" yaml:"typeId"`
	InheritedSlot string          `json:"inheritedSlot,omitempty" yaml:"inheritedSlot,omitempty"`
}

// Entry serializes the definition.
func (d Definition) Entry() Entry {
	return Entry{
		Name:          d.Name,
		Direction:     d.Direction,
		TypeID:        d.AcceptedType,
		InheritedSlot: d.InheritedSlot,
	}
}

// Definition converts the entry back into a definition without conversion.
func (e Entry) Definition() Definition {
	return Definition{
		Name:          e.Name,
		Direction:     e.Direction,
		AcceptedType:  e.TypeID,
		InheritedSlot: e.InheritedSlot,
	}
}
