package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/slotflow/pkg/datatype"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

type recordingListener struct {
	events []Event
}

func (l *recordingListener) NodeChanged(_ *Node, e Event) { l.events = append(l.events, e) }

func filterConfiguration() *slot.Configuration {
	c := slot.NewConfiguration()
	_ = c.AddSlot(slot.InputDefinition("input", "image"), false)
	_ = c.AddSlot(slot.OutputDefinition("output", "image", slot.InheritFirstInput), false)
	return c
}

func TestNew_CreatesSlotsFromConfiguration(t *testing.T) {
	n := New("filter", filterConfiguration(), WithID("n1"))

	assert.Equal(t, "n1", n.ID())
	assert.Equal(t, "filter", n.Name())
	require.Len(t, n.InputSlots(), 1)
	require.Len(t, n.OutputSlots(), 1)
	assert.Equal(t, "n1", n.FirstInputSlot().Owner())

	n.SetCustomName("Blur")
	assert.Equal(t, "Blur", n.Name())
}

func TestNode_SlotLookupErrors(t *testing.T) {
	n := New("filter", filterConfiguration())

	_, err := n.InputSlot("output")
	assert.ErrorIs(t, err, slotErrors.ErrWrongSlotDirection)
	_, err = n.OutputSlot("input")
	assert.ErrorIs(t, err, slotErrors.ErrWrongSlotDirection)
	_, err = n.InputSlot("missing")
	assert.ErrorIs(t, err, slotErrors.ErrSlotNotFound)
	assert.True(t, slotErrors.IsProgrammingError(err))

	in, err := n.InputSlot("input")
	require.NoError(t, err)
	assert.True(t, n.Owns(in))
}

func TestNode_ResyncReusesUnchangedSlots(t *testing.T) {
	n := New("filter", filterConfiguration())
	l := &recordingListener{}
	n.AddListener(l)

	before := n.FirstInputSlot()
	before.AddData("row", nil, "")

	require.NoError(t, n.Configuration().AddSlot(slot.InputDefinition("mask", "mask"), false))
	require.NoError(t, n.Configuration().MoveUp(slot.Input, "mask"))

	inputs := n.InputSlots()
	require.Len(t, inputs, 2)
	assert.Equal(t, "mask", inputs[0].Name())
	assert.Same(t, before, inputs[1])
	assert.Equal(t, 1, inputs[1].RowCount())
	assert.Equal(t, []Event{SlotsChanged, SlotsChanged}, l.events)

	require.NoError(t, n.Configuration().RemoveSlot(slot.Input, "input", false))
	assert.False(t, n.Owns(before))

	n.RemoveListener(l)
	require.NoError(t, n.Configuration().RemoveSlot(slot.Input, "mask", false))
	assert.Len(t, l.events, 3)
}

func TestNode_DataInputSlotsExcludeParameterSlot(t *testing.T) {
	c := filterConfiguration()
	require.NoError(t, c.AddSlot(slot.InputDefinition("parameters", "table"), false))
	n := New("filter", c, WithParameterSlot("parameters"))

	data := n.DataInputSlots()
	require.Len(t, data, 1)
	assert.Equal(t, "input", data[0].Name())
}

func TestNode_Duplicate(t *testing.T) {
	n := New("filter", filterConfiguration(), WithName("Blur"), WithDescription("smooths"))
	n.FirstInputSlot().AddData("row", nil, "")

	cp := n.Duplicate()
	assert.NotEqual(t, n.ID(), cp.ID())
	assert.Equal(t, "Blur", cp.Name())
	assert.Equal(t, "smooths", cp.Description())
	assert.Equal(t, 0, cp.FirstInputSlot().RowCount())

	require.NoError(t, cp.Configuration().AddSlot(slot.InputDefinition("extra", "image"), false))
	assert.Len(t, n.InputSlots(), 1)
}

// fakeGraph wires a single upstream output into the node under test.
type fakeGraph struct {
	sources map[*slot.DataSlot]*slot.DataSlot
	owners  map[*slot.DataSlot]*Node
}

func (g *fakeGraph) SourceOutputSlot(in *slot.DataSlot) *slot.DataSlot { return g.sources[in] }

func (g *fakeGraph) DownstreamInputSlots(out *slot.DataSlot) []*slot.DataSlot {
	var result []*slot.DataSlot
	for in, src := range g.sources {
		if src == out {
			result = append(result, in)
		}
	}
	return result
}

func (g *fakeGraph) NodeOf(s *slot.DataSlot) *Node { return g.owners[s] }

func testTypes(t *testing.T) *datatype.Registry {
	t.Helper()
	r := datatype.NewRegistry()
	require.NoError(t, r.Register("image"))
	require.NoError(t, r.Register("mask", "image"))
	require.NoError(t, r.Register("table"))
	return r
}

func TestUpdateSlotInheritance(t *testing.T) {
	types := testTypes(t)

	srcCfg := slot.NewConfiguration()
	require.NoError(t, srcCfg.AddSlot(slot.OutputDefinition("out", "mask", ""), false))
	source := New("source", srcCfg)

	filter := New("filter", filterConfiguration())
	sink := New("filter", filterConfiguration())

	g := &fakeGraph{
		sources: map[*slot.DataSlot]*slot.DataSlot{},
		owners:  map[*slot.DataSlot]*Node{},
	}
	for _, n := range []*Node{source, filter, sink} {
		for _, s := range append(n.InputSlots(), n.OutputSlots()...) {
			g.owners[s] = n
		}
	}
	g.sources[filter.FirstInputSlot()] = source.FirstOutputSlot()
	g.sources[sink.FirstInputSlot()] = filter.FirstOutputSlot()

	filter.UpdateSlotInheritance(g, types)
	assert.Equal(t, datatype.Handle("mask"), filter.FirstOutputSlot().AcceptedType())
	assert.Equal(t, datatype.Handle("mask"), sink.FirstOutputSlot().AcceptedType(), "change propagates downstream")

	delete(g.sources, filter.FirstInputSlot())
	filter.UpdateSlotInheritance(g, types)
	assert.Equal(t, datatype.Handle("image"), filter.FirstOutputSlot().AcceptedType())
	assert.Equal(t, datatype.Handle("image"), sink.FirstOutputSlot().AcceptedType())
}

func TestNew_ResolvesInheritanceWithoutGraph(t *testing.T) {
	c := slot.NewConfiguration()
	require.NoError(t, c.AddSlot(slot.InputDefinition("in", "image"), false))
	require.NoError(t, c.AddSlot(slot.OutputDefinition("out", datatype.Any, "in"), false))
	require.NoError(t, c.AddSlot(slot.OutputDefinition("fixed", "table", "in"), false))

	n := New("node", c)
	out, err := n.OutputSlot("out")
	require.NoError(t, err)
	assert.Equal(t, datatype.Handle("image"), out.AcceptedType())
	fixed, err := n.OutputSlot("fixed")
	require.NoError(t, err)
	assert.Equal(t, datatype.Handle("table"), fixed.AcceptedType(), "image is not assignable to table")

	listener := &recordingListener{}
	n.AddListener(listener)
	require.NoError(t, c.RemoveSlot(slot.Input, "in", false))
	require.NoError(t, c.AddSlot(slot.InputDefinition("in", "mask"), false))
	out, err = n.OutputSlot("out")
	require.NoError(t, err)
	assert.Equal(t, datatype.Handle("mask"), out.AcceptedType())
	assert.Contains(t, listener.events, SlotTypesChanged)

	typed := New("node", filterMaskConfiguration(), WithTypes(testTypes(t)))
	assert.Equal(t, datatype.Handle("mask"), typed.FirstOutputSlot().AcceptedType(), "mask derives from image")
	assert.Equal(t, datatype.Handle("mask"), typed.Duplicate().FirstOutputSlot().AcceptedType())
}

func filterMaskConfiguration() *slot.Configuration {
	c := slot.NewConfiguration()
	_ = c.AddSlot(slot.InputDefinition("input", "mask"), false)
	_ = c.AddSlot(slot.OutputDefinition("output", "image", slot.InheritFirstInput), false)
	return c
}

func TestExpectedOutputType_FallsBackToDeclaredType(t *testing.T) {
	types := testTypes(t)

	tests := []struct {
		name string
		def  slot.Definition
		want datatype.Handle
	}{
		{
			name: "no inheritance",
			def:  slot.OutputDefinition("out", "image", ""),
			want: "image",
		},
		{
			name: "missing source slot",
			def:  slot.OutputDefinition("out", "image", "nope"),
			want: "image",
		},
		{
			name: "conversion applied",
			def: slot.OutputDefinition("out", "image", "input").
				WithConversion(datatype.Mapping(map[datatype.Handle]datatype.Handle{"image": "mask"})),
			want: "mask",
		},
		{
			name: "not assignable to declared type",
			def: slot.OutputDefinition("out", "image", "input").
				WithConversion(datatype.Mapping(map[datatype.Handle]datatype.Handle{"image": "table"})),
			want: "image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := slot.NewConfiguration()
			require.NoError(t, c.AddSlot(slot.InputDefinition("input", "image"), false))
			require.NoError(t, c.AddSlot(tt.def, false))
			n := New("node", c)

			assert.Equal(t, tt.want, n.ExpectedOutputType(nil, types, n.FirstOutputSlot()))
		})
	}
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register(TypeInfo{ID: "filter", Name: "Filter", Slots: filterConfiguration}))
	assert.Error(t, r.Register(TypeInfo{ID: "filter", Slots: filterConfiguration}))
	assert.Error(t, r.Register(TypeInfo{ID: "broken"}))

	n, err := r.New("filter", WithID("f"))
	require.NoError(t, err)
	assert.Equal(t, "f", n.ID())
	assert.Len(t, n.OutputSlots(), 1)

	_, err = r.New("unknown")
	assert.ErrorIs(t, err, slotErrors.ErrUnknownNodeType)
	assert.Len(t, r.Types(), 1)
}
