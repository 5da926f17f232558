package nodes

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/annotation"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/datatype"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// Field is a single typed constant. A list of fields produces one object row.
type Field struct {
	Name     string
	DataType string
	Value    any
}

// value converts the field value to its declared type.
func (f Field) value() (any, error) {
	switch f.DataType {
	case "NUMBER":
		switch v := f.Value.(type) {
		case nil:
			return float64(0), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid number %q", f.Name, v)
			}
			return n, nil
		}
		return nil, fmt.Errorf("field %s: invalid number %v", f.Name, f.Value)
	case "BOOLEAN":
		switch v := f.Value.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid boolean %q", f.Name, v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("field %s: invalid boolean %v", f.Name, f.Value)
	default:
		// Unknown types fall back to string
		if f.Value == nil {
			return "", nil
		}
		return fmt.Sprintf("%v", f.Value), nil
	}
}

func parseFields(raw []any) ([]Field, error) {
	fields := make([]Field, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("fields[%d] must be a mapping", i)
		}
		p := algorithm.Parameters(m)
		f := Field{Name: p.String("name"), DataType: p.StringOr("dataType", "STRING"), Value: m["value"]}
		if f.Name == "" {
			return nil, fmt.Errorf("fields[%d] has no name", i)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// constantRow is one emitted row with its own annotations.
type constantRow struct {
	data        any
	annotations []annotation.Annotation
}

// Constant emits the rows configured by its parameters:
//
//	values:      plain data items, one row each
//	rows:        [{data, annotations}] rows with their own annotations
//	fields:      [{name, dataType, value}] one object row
//	annotations: added to every row
//	dataType:    accepted type of the output slot
type Constant struct {
	*algorithm.SimpleIterating
	rows []constantRow
}

func newConstant(n *node.Node, params algorithm.Parameters) (algorithm.Runnable, error) {
	c := &Constant{}

	for _, v := range params.Slice("values") {
		c.rows = append(c.rows, constantRow{data: v})
	}
	for i, item := range params.Slice("rows") {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rows[%d] must be a mapping", i)
		}
		p := algorithm.Parameters(m)
		c.rows = append(c.rows, constantRow{data: m["data"], annotations: p.Annotations("annotations")})
	}
	if raw := params.Slice("fields"); len(raw) > 0 {
		fields, err := parseFields(raw)
		if err != nil {
			return nil, err
		}
		obj := make(map[string]any, len(fields))
		for _, f := range fields {
			v, err := f.value()
			if err != nil {
				return nil, err
			}
			obj[f.Name] = v
		}
		c.rows = append(c.rows, constantRow{data: obj})
	}
	if len(c.rows) == 0 {
		return nil, fmt.Errorf("no values configured for constant")
	}

	if dt := params.String("dataType"); dt != "" {
		cfg := n.Configuration()
		if err := cfg.RemoveSlot(slot.Output, "output", false); err != nil {
			return nil, err
		}
		if err := cfg.AddSlot(slot.OutputDefinition("output", datatype.Handle(dt), ""), false); err != nil {
			return nil, err
		}
	}

	alg, err := algorithm.NewSimpleIterating(n, c.emit,
		algorithm.WithParameterAnnotations(params.Annotations("annotations")...))
	if err != nil {
		return nil, err
	}
	c.SimpleIterating = alg
	return c, nil
}

func (c *Constant) emit(ctx context.Context, b *batch.Batch) error {
	for _, r := range c.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.AddOutputData("output", r.data, r.annotations...); err != nil {
			return err
		}
	}
	return nil
}
