// Package nodes provides the built-in node types of slotflow.
package nodes

import (
	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/datatype"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// Built-in node type identifiers.
const (
	TypeConstant = "constant"
	TypeAnnotate = "annotate"
	TypeCollect  = "collect"
	TypeFilter   = "script-filter"
	TypeText     = "text"
	TypeDate     = "date-format"
)

// Built-in data types. All of them derive from datatype.Any.
const (
	String  datatype.Handle = "string"
	Number  datatype.Handle = "number"
	Boolean datatype.Handle = "boolean"
	Object  datatype.Handle = "object"
	List    datatype.Handle = "list"
)

// DataTypes returns a registry holding the built-in data types.
func DataTypes() *datatype.Registry {
	r := datatype.NewRegistry()
	for _, h := range []datatype.Handle{String, Number, Boolean, Object, List} {
		r.MustRegister(h)
	}
	return r
}

// RegisterAll registers every built-in node type with the catalog.
func RegisterAll(c *algorithm.Catalog) error {
	registrations := []struct {
		info    node.TypeInfo
		creator algorithm.Creator
	}{
		{
			info: node.TypeInfo{
				ID:          TypeConstant,
				Name:        "Constant",
				Description: "Emits configured values",
				Slots:       constantSlots,
			},
			creator: newConstant,
		},
		{
			info: node.TypeInfo{
				ID:          TypeAnnotate,
				Name:        "Annotate",
				Description: "Adds annotations to every row",
				Slots:       passSlots,
			},
			creator: newAnnotate,
		},
		{
			info: node.TypeInfo{
				ID:          TypeCollect,
				Name:        "Collect",
				Description: "Merges matching rows into lists",
				Slots:       collectSlots,
			},
			creator: newCollect,
		},
		{
			info: node.TypeInfo{
				ID:          TypeFilter,
				Name:        "Script filter",
				Description: "Keeps rows for which a JavaScript expression is truthy",
				Slots:       passSlots,
			},
			creator: newFilter,
		},
		{
			info: node.TypeInfo{
				ID:          TypeText,
				Name:        "Text",
				Description: "Applies a string operation to rows or an object field",
				Slots:       passSlots,
			},
			creator: newText,
		},
		{
			info: node.TypeInfo{
				ID:          TypeDate,
				Name:        "Date format",
				Description: "Reformats dates and converts time zones",
				Slots:       passSlots,
			},
			creator: newDateFormat,
		},
	}

	for _, r := range registrations {
		if err := c.Register(r.info, r.creator); err != nil {
			return err
		}
	}
	return nil
}

// passSlots has one input and one output inheriting its type.
func passSlots() *slot.Configuration {
	cfg := slot.NewConfiguration()
	_ = cfg.AddSlot(slot.InputDefinition("input", datatype.Any), false)
	_ = cfg.AddSlot(slot.OutputDefinition("output", datatype.Any, slot.InheritFirstInput), false)
	cfg.Seal()
	return cfg
}

func constantSlots() *slot.Configuration {
	cfg := slot.NewConfiguration()
	_ = cfg.AddSlot(slot.OutputDefinition("output", datatype.Any, ""), false)
	cfg.SealInputs()
	return cfg
}

// collectSlots accepts additional user inputs; all of them are merged.
func collectSlots() *slot.Configuration {
	cfg := slot.NewConfiguration()
	_ = cfg.AddSlot(slot.InputDefinition("input", datatype.Any), false)
	_ = cfg.AddSlot(slot.OutputDefinition("output", List, ""), false)
	cfg.SealOutputs()
	return cfg
}
