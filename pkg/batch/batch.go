// Package batch groups the rows of a node's input slots into data batches by
// matching their annotations, and gives per-batch callbacks access to their
// inputs and outputs.
package batch

import (
	"fmt"
	"sort"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// common holds what iterating and merging batches share.
type common struct {
	node        *node.Node
	key         Key
	index       int
	annotations *annotation.Set
}

// Node returns the node the batch was generated for.
func (c *common) Node() *node.Node { return c.node }

// Key returns the batch key the rows were matched on.
func (c *common) Key() Key { return c.key }

// Index returns the position of the batch in generation order.
func (c *common) Index() int { return c.index }

// Annotations returns the merged annotations of the batch. The set is mutable;
// changes apply to every output row added afterwards.
func (c *common) Annotations() *annotation.Set { return c.annotations }

// AddOutputData appends a row to an output slot of the node. The row carries
// the batch annotations followed by extra, which win on name clashes.
func (c *common) AddOutputData(slotName string, data any, extra ...annotation.Annotation) error {
	out, err := c.node.OutputSlot(slotName)
	if err != nil {
		return err
	}
	list := append(c.annotations.List(), extra...)
	out.AddData(data, list, annotation.MergeOverwrite)
	return nil
}

func (c *common) inputSlot(slotName string) (*slot.DataSlot, error) {
	return c.node.InputSlot(slotName)
}

// Batch assigns exactly one row of every data input slot.
type Batch struct {
	common
	slots []string
	rows  map[string]int
}

func newBatch(n *node.Node) *Batch {
	return &Batch{
		common: common{node: n, annotations: &annotation.Set{}},
		rows:   make(map[string]int),
	}
}

func (b *Batch) assign(slotName string, row int) {
	if _, ok := b.rows[slotName]; !ok {
		b.slots = append(b.slots, slotName)
	}
	b.rows[slotName] = row
}

// Slots returns the names of the assigned slots in slot order.
func (b *Batch) Slots() []string {
	return append([]string(nil), b.slots...)
}

// Row returns the row assigned for the slot.
func (b *Batch) Row(slotName string) (int, bool) {
	r, ok := b.rows[slotName]
	return r, ok
}

// Rows returns the row assignment as a map.
func (b *Batch) Rows() map[string]int {
	result := make(map[string]int, len(b.rows))
	for k, v := range b.rows {
		result[k] = v
	}
	return result
}

// InputData returns the data item assigned for the input slot.
func (b *Batch) InputData(slotName string) (any, error) {
	s, err := b.inputSlot(slotName)
	if err != nil {
		return nil, err
	}
	row, ok := b.rows[slotName]
	if !ok {
		return nil, slotErrors.SlotError(slotErrors.ErrSlotNotFound, b.node.Name(), slotName, "slot has no row in this data batch")
	}
	return s.Data(row), nil
}

// InputAnnotations returns the own annotations of the row assigned for the slot.
func (b *Batch) InputAnnotations(slotName string) ([]annotation.Annotation, error) {
	s, err := b.inputSlot(slotName)
	if err != nil {
		return nil, err
	}
	row, ok := b.rows[slotName]
	if !ok {
		return nil, slotErrors.SlotError(slotErrors.ErrSlotNotFound, b.node.Name(), slotName, "slot has no row in this data batch")
	}
	return s.Annotations(row), nil
}

// InputDataAs returns the data item of the slot converted to T.
func InputDataAs[T any](b *Batch, slotName string) (T, error) {
	var zero T
	data, err := b.InputData(slotName)
	if err != nil {
		return zero, err
	}
	typed, ok := data.(T)
	if !ok {
		return zero, slotErrors.SlotError(slotErrors.ErrTypeMismatch, b.node.Name(), slotName,
			fmt.Sprintf("expected %T, got %T", zero, data))
	}
	return typed, nil
}

// MergingBatch assigns every matching row of every data input slot.
type MergingBatch struct {
	common
	slots []string
	rows  map[string][]int
}

func newMergingBatch(n *node.Node) *MergingBatch {
	return &MergingBatch{
		common: common{node: n, annotations: &annotation.Set{}},
		rows:   make(map[string][]int),
	}
}

// Slots returns the names of the assigned slots in slot order.
func (b *MergingBatch) Slots() []string {
	return append([]string(nil), b.slots...)
}

// RowsOf returns the rows assigned for the slot in row order.
func (b *MergingBatch) RowsOf(slotName string) []int {
	return append([]int(nil), b.rows[slotName]...)
}

// InputData returns the data items assigned for the input slot in row order.
func (b *MergingBatch) InputData(slotName string) ([]any, error) {
	s, err := b.inputSlot(slotName)
	if err != nil {
		return nil, err
	}
	rows, ok := b.rows[slotName]
	if !ok {
		return nil, slotErrors.SlotError(slotErrors.ErrSlotNotFound, b.node.Name(), slotName, "slot has no rows in this data batch")
	}
	result := make([]any, len(rows))
	for i, r := range rows {
		result[i] = s.Data(r)
	}
	return result, nil
}

// MergedInputDataAs returns the data items of the slot converted to T.
func MergedInputDataAs[T any](b *MergingBatch, slotName string) ([]T, error) {
	data, err := b.InputData(slotName)
	if err != nil {
		return nil, err
	}
	result := make([]T, len(data))
	for i, d := range data {
		typed, ok := d.(T)
		if !ok {
			return nil, slotErrors.SlotError(slotErrors.ErrTypeMismatch, b.node.Name(), slotName,
				fmt.Sprintf("expected %T, got %T at position %d", result[i], d, i))
		}
		result[i] = typed
	}
	return result, nil
}

// Annotated is implemented by both batch kinds.
type Annotated interface {
	Annotations() *annotation.Set
}

// Compare orders batches by their annotation values over the sorted union of
// annotation names. A missing annotation sorts before any value.
func Compare(a, b Annotated) int {
	left, right := a.Annotations(), b.Annotations()
	names := append(left.Names(), right.Names()...)
	sort.Strings(names)
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		la, lok := left.Get(name)
		ra, rok := right.Get(name)
		switch {
		case !lok && !rok:
			continue
		case !lok:
			return -1
		case !rok:
			return 1
		case la.Value < ra.Value:
			return -1
		case la.Value > ra.Value:
			return 1
		}
	}
	return 0
}
