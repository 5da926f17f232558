package algorithm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/datatype"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

func echoSlots() *slot.Configuration {
	cfg := slot.NewConfiguration()
	_ = cfg.AddSlot(slot.InputDefinition("in", datatype.Any), false)
	_ = cfg.AddSlot(slot.OutputDefinition("out", datatype.Any, slot.InheritFirstInput), false)
	return cfg
}

func echoCreator(n *node.Node, params Parameters) (Runnable, error) {
	if params.Has("fail") {
		return nil, errors.New("bad parameters")
	}
	return NewSimpleIterating(n, func(_ context.Context, b *batch.Batch) error {
		data, err := b.InputData("in")
		if err != nil {
			return err
		}
		return b.AddOutputData("out", data)
	}, WithParameterAnnotations(params.Annotations("annotations")...))
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(node.TypeInfo{ID: "echo", Name: "Echo", Slots: echoSlots}, echoCreator))

	assert.Error(t, c.Register(node.TypeInfo{ID: "echo", Slots: echoSlots}, echoCreator), "duplicate")
	assert.Error(t, c.Register(node.TypeInfo{ID: "nil"}, nil), "nil creator")
	assert.False(t, c.HasCreator("nil"))

	assert.True(t, c.HasCreator("echo"))
	assert.Equal(t, []string{"echo"}, c.RegisteredTypes())
	info, ok := c.NodeTypes().Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "Echo", info.Name)

	t.Run("create", func(t *testing.T) {
		r, err := c.Create("echo", Parameters{"annotations": map[string]any{"run": "1"}}, node.WithID("e1"), node.WithName("first"))
		require.NoError(t, err)
		assert.Equal(t, "e1", r.Node().ID())
		assert.Equal(t, "first", r.Node().Name())

		in, err := r.Node().InputSlot("in")
		require.NoError(t, err)
		in.AddData("x", nil, annotation.MergeOverwrite)
		require.NoError(t, r.RunBatches(context.Background(), DefaultRunConfig()))

		out, err := r.Node().OutputSlot("out")
		require.NoError(t, err)
		require.Equal(t, 1, out.RowCount())
		got, ok := out.Annotation(0, "run")
		require.True(t, ok)
		assert.Equal(t, "1", got.Value)
	})

	t.Run("nil parameters", func(t *testing.T) {
		_, err := c.Create("echo", nil)
		assert.NoError(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := c.Create("missing", nil)
		assert.ErrorIs(t, err, slotErrors.ErrUnknownNodeType)
	})

	t.Run("creator error", func(t *testing.T) {
		_, err := c.Create("echo", Parameters{"fail": true}, node.WithName("broken"))
		assert.ErrorContains(t, err, "failed to create node broken of type echo")
		assert.ErrorContains(t, err, "bad parameters")
	})
}

func TestConfigure(t *testing.T) {
	n := pairNode(t, "a", "b")

	it := NewIterating(n, concat)
	require.NoError(t, it.Configure(batch.Settings{DataSetMatching: batch.Union, SkipIncompleteDataSets: true}))
	assert.Equal(t, batch.Union, it.MatchingSettings().DataSetMatching)
	assert.True(t, it.MatchingSettings().SkipIncompleteDataSets)
	assert.ErrorIs(t, it.Configure(batch.Settings{DataSetMatching: "nearest"}), slotErrors.ErrUnknownMatchingStrategy)
	assert.Equal(t, batch.Union, it.MatchingSettings().DataSetMatching, "invalid settings are not applied")

	m := NewMerging(n, nil)
	require.NoError(t, m.Configure(batch.Settings{DataSetMatching: batch.Custom, CustomColumns: batch.Columns("sample")}))
	assert.Equal(t, batch.Custom, m.MatchingSettings().DataSetMatching)

	single := pairNode(t, "a")
	s, err := NewSimpleIterating(single, nil)
	require.NoError(t, err)
	require.NoError(t, s.Configure(batch.Settings{DataSetMatching: batch.Union, AnnotationMergeMode: annotation.MergeSkipExisting}))
	assert.Equal(t, batch.Custom, s.MatchingSettings().DataSetMatching, "simple iterating always matches row by row")
	assert.Equal(t, annotation.MergeSkipExisting, s.MatchingSettings().AnnotationMergeMode)
}

func TestMerging_SortBatches(t *testing.T) {
	n := pairNode(t, "a")
	fill(t, n, "a", [2]string{"c", "3"}, [2]string{"a", "1"}, [2]string{"b", "2"})

	m := NewMerging(n, nil)
	batches, err := m.GenerateBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2"}, sampleValues(batches))

	m.SortBatches = true
	batches, err = m.GenerateBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, sampleValues(batches))
}

func sampleValues(batches []*batch.MergingBatch) []string {
	var values []string
	for _, b := range batches {
		a, _ := b.Annotations().Get("sample")
		values = append(values, a.Value)
	}
	return values
}
