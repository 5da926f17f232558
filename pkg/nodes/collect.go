package nodes

import (
	"context"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/node"
)

// Collect merges the rows of every input slot sharing a batch key into one
// list row. Items keep input slot order, then row order. Output rows are
// ordered by their merged annotations.
//
//	ignoredColumns: annotation columns never used for matching
type Collect struct {
	*algorithm.Merging
}

func newCollect(n *node.Node, params algorithm.Parameters) (algorithm.Runnable, error) {
	c := &Collect{}
	c.Merging = algorithm.NewMerging(n, c.collect)
	c.IgnoredColumns = params.StringSlice("ignoredColumns")
	c.SortBatches = true
	return c, nil
}

func (c *Collect) collect(_ context.Context, b *batch.MergingBatch) error {
	var items []any
	for _, name := range b.Slots() {
		data, err := b.InputData(name)
		if err != nil {
			return err
		}
		items = append(items, data...)
	}
	if items == nil {
		items = []any{}
	}
	return b.AddOutputData("output", items)
}
