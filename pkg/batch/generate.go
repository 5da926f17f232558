package batch

import (
	"context"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// Group is the set of rows per slot that share one Key.
type Group struct {
	Key  Key
	Rows map[string][]int
}

// GroupByMetadata buckets every row of every slot by its key over columns.
// Groups are returned in order of first appearance, scanning slots in order
// and rows in append order.
func GroupByMetadata(slots []*slot.DataSlot, columns []string) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, s := range slots {
		for row := 0; row < s.RowCount(); row++ {
			key := NewKey(s, row, columns)
			id := key.id()
			i, ok := index[id]
			if !ok {
				i = len(groups)
				index[id] = i
				groups = append(groups, Group{Key: key, Rows: make(map[string][]int)})
			}
			groups[i].Rows[s.Name()] = append(groups[i].Rows[s.Name()], row)
		}
	}
	return groups
}

// Options carries node-specific inputs to batch generation.
type Options struct {
	// Parameters are added to every batch after matching.
	Parameters []annotation.Annotation
	// IgnoredColumns are removed from the reference columns. Only merging
	// generation applies them.
	IgnoredColumns []string
}

// GenerateIterating builds batches holding one row of every data input slot.
// Rows sharing a key are combined as a Cartesian product, later slots varying
// slowest.
func GenerateIterating(ctx context.Context, n *node.Node, settings Settings, opts Options) ([]*Batch, error) {
	slots := n.DataInputSlots()
	if len(slots) == 0 {
		b := newBatch(n)
		b.annotations.AddAll(opts.Parameters, annotation.MergeOverwrite)
		return []*Batch{b}, nil
	}

	columns, err := ReferenceColumns(ctx, slots, settings)
	if err != nil {
		return nil, err
	}
	groups := GroupByMetadata(slots, columns)

	if !settings.AllowDuplicateDataSets {
		if err := checkDuplicates(n, slots, groups); err != nil {
			return nil, err
		}
	}
	groups, err = checkCompleteness(n, slots, groups, settings.SkipIncompleteDataSets)
	if err != nil {
		return nil, err
	}

	mode := settings.mergeMode(annotation.MergeOverwrite)
	var result []*Batch
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, tuple := range product(slots, g) {
			b := newBatch(n)
			b.key = g.Key
			for i, s := range slots {
				b.assign(s.Name(), tuple[i])
				b.annotations.AddAll(s.Annotations(tuple[i]), mode)
			}
			result = append(result, b)
		}
	}

	for i, b := range result {
		b.index = i
		b.annotations.AddAll(opts.Parameters, annotation.MergeOverwrite)
	}
	return result, nil
}

// GenerateMerging builds exactly one batch per key holding every matching row
// of every data input slot. Conflicting annotation values are combined with
// the configured merge mode, by default into a sorted JSON list.
func GenerateMerging(ctx context.Context, n *node.Node, settings Settings, opts Options) ([]*MergingBatch, error) {
	slots := n.DataInputSlots()
	if len(slots) == 0 {
		b := newMergingBatch(n)
		b.annotations.AddAll(opts.Parameters, annotation.MergeOverwrite)
		return []*MergingBatch{b}, nil
	}

	columns, err := ReferenceColumns(ctx, slots, settings)
	if err != nil {
		return nil, err
	}
	columns = subtract(columns, opts.IgnoredColumns)
	groups := GroupByMetadata(slots, columns)

	groups, err = checkCompleteness(n, slots, groups, settings.SkipIncompleteDataSets)
	if err != nil {
		return nil, err
	}

	mode := settings.mergeMode(annotation.MergeValues)
	result := make([]*MergingBatch, 0, len(groups))
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := newMergingBatch(n)
		b.key = g.Key
		b.index = i
		for _, s := range slots {
			rows := g.Rows[s.Name()]
			b.slots = append(b.slots, s.Name())
			b.rows[s.Name()] = append([]int(nil), rows...)
			for _, r := range rows {
				b.annotations.AddAll(s.Annotations(r), mode)
			}
		}
		b.annotations.AddAll(opts.Parameters, annotation.MergeOverwrite)
		result = append(result, b)
	}
	return result, nil
}

func checkDuplicates(n *node.Node, slots []*slot.DataSlot, groups []Group) error {
	for _, g := range groups {
		for _, s := range slots {
			if len(g.Rows[s.Name()]) > 1 {
				return &slotErrors.MatchingError{
					Kind: slotErrors.ErrDuplicateDataSet,
					Node: n.Name(),
					Key:  g.Key.String(),
					Slot: s.Name(),
					Hint: "allow duplicate data sets or refine the matched annotation columns",
				}
			}
		}
	}
	return nil
}

func checkCompleteness(n *node.Node, slots []*slot.DataSlot, groups []Group, skip bool) ([]Group, error) {
	kept := groups[:0:0]
	for _, g := range groups {
		missing := ""
		for _, s := range slots {
			if len(g.Rows[s.Name()]) == 0 {
				missing = s.Name()
				break
			}
		}
		if missing == "" {
			kept = append(kept, g)
			continue
		}
		if skip {
			continue
		}
		return nil, &slotErrors.MatchingError{
			Kind: slotErrors.ErrIncompleteDataSet,
			Node: n.Name(),
			Key:  g.Key.String(),
			Slot: missing,
			Hint: "skip incomplete data sets or check the upstream annotations",
		}
	}
	return kept, nil
}

// product enumerates the row combinations of a group in generation order.
func product(slots []*slot.DataSlot, g Group) [][]int {
	tuples := [][]int{{}}
	for _, s := range slots {
		rows := g.Rows[s.Name()]
		next := make([][]int, 0, len(tuples)*len(rows))
		for _, r := range rows {
			for _, t := range tuples {
				tuple := make([]int, len(t), len(t)+1)
				copy(tuple, t)
				next = append(next, append(tuple, r))
			}
		}
		tuples = next
	}
	return tuples
}
