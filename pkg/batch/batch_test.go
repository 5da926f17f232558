package batch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// row describes a test row as data followed by name/value pairs.
type row struct {
	data any
	ann  map[string]string
}

func r(data any, pairs ...string) row {
	ann := make(map[string]string)
	for i := 0; i+1 < len(pairs); i += 2 {
		ann[pairs[i]] = pairs[i+1]
	}
	return row{data: data, ann: ann}
}

// testNode creates a node with one input slot per entry of inputs, named
// "A", "B", ... and filled with the given rows, plus an output slot "out".
func testNode(t *testing.T, inputs ...[]row) *node.Node {
	t.Helper()
	c := slot.NewConfiguration()
	for i := range inputs {
		require.NoError(t, c.AddSlot(slot.InputDefinition(string(rune('A'+i)), "any"), false))
	}
	require.NoError(t, c.AddSlot(slot.OutputDefinition("out", "any", ""), false))
	n := node.New("test", c, node.WithName("test-node"))
	for i, rows := range inputs {
		in, err := n.InputSlot(string(rune('A' + i)))
		require.NoError(t, err)
		for _, rw := range rows {
			in.AddData(rw.data, sortedPairs(rw.ann), annotation.MergeOverwrite)
		}
	}
	return n
}

func sortedPairs(m map[string]string) []annotation.Annotation {
	s := slot.NewDataSlot(slot.InputDefinition("tmp", "any"), "")
	s.Deserialize([]slot.SerializedRow{{Annotations: m}})
	return s.Annotations(0)
}

func assignments(batches []*Batch) []map[string]int {
	result := make([]map[string]int, len(batches))
	for i, b := range batches {
		result[i] = b.Rows()
	}
	return result
}

func iterating(strategy Strategy) Settings {
	s := DefaultIteratingSettings()
	s.DataSetMatching = strategy
	return s
}

func TestReferenceColumns(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "sample", "x", "channel", "1")},
		[]row{r("b0", "sample", "x", "z", "q")},
	)
	slots := n.DataInputSlots()

	tests := []struct {
		name     string
		settings Settings
		want     []string
	}{
		{name: "union", settings: iterating(Union), want: []string{"channel", "sample", "z"}},
		{name: "intersection", settings: iterating(Intersection), want: []string{"sample"}},
		{name: "custom empty", settings: iterating(Custom), want: nil},
		{
			name:     "custom with absent column",
			settings: Settings{DataSetMatching: Custom, CustomColumns: Columns("channel", "plate")},
			want:     []string{"channel", "plate"},
		},
		{
			name:     "custom regex inverted",
			settings: Settings{DataSetMatching: Custom, CustomColumns: []StringPredicate{{Mode: Regex, Value: "^c"}}, InvertCustomColumns: true},
			want:     []string{"sample", "z"},
		},
		{
			name:     "custom ignore case",
			settings: Settings{DataSetMatching: Custom, CustomColumns: []StringPredicate{{Mode: EqualsIgnoreCase, Value: "SAMPLE"}}},
			want:     []string{"sample"},
		},
		{
			name:     "custom script",
			settings: Settings{DataSetMatching: Custom, CustomColumns: []StringPredicate{{Mode: Script, Value: `value.length == 1`}}},
			want:     []string{"z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReferenceColumns(context.Background(), slots, tt.settings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReferenceColumns(context.Background(), slots, Settings{DataSetMatching: "fuzzy"})
	assert.ErrorIs(t, err, slotErrors.ErrUnknownMatchingStrategy)
	assert.Empty(t, intersectionColumns(nil))
}

func TestReferenceColumns_UnionAndIntersectionLaws(t *testing.T) {
	n := testNode(t,
		[]row{r(1, "a", "1", "b", "2"), r(2, "c", "3")},
		[]row{r(3, "a", "1", "d", "4")},
		[]row{r(4, "a", "1", "b", "2", "e", "5")},
	)
	slots := n.DataInputSlots()
	union, err := ReferenceColumns(context.Background(), slots, iterating(Union))
	require.NoError(t, err)
	inter, err := ReferenceColumns(context.Background(), slots, iterating(Intersection))
	require.NoError(t, err)

	for _, s := range slots {
		for _, c := range s.AnnotationColumns() {
			assert.Contains(t, union, c)
		}
		for _, c := range inter {
			assert.Contains(t, s.AnnotationColumns(), c)
		}
	}
}

func TestGenerateIterating_CartesianProduct(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "sample", "x"), r("a1", "sample", "x"), r("a2", "sample", "y")},
		[]row{r("b0", "sample", "y"), r("b1", "sample", "x")},
	)

	batches, err := GenerateIterating(context.Background(), n, DefaultIteratingSettings(), Options{})
	require.NoError(t, err)

	want := []map[string]int{
		{"A": 0, "B": 1},
		{"A": 1, "B": 1},
		{"A": 2, "B": 0},
	}
	if diff := cmp.Diff(want, assignments(batches)); diff != "" {
		t.Errorf("assignments mismatch (-want +got):\n%s", diff)
	}
	for i, b := range batches {
		assert.Equal(t, i, b.Index())
	}
	assert.Equal(t, "sample=x", batches[0].Key().String())
}

func TestGenerateIterating_ProductSize(t *testing.T) {
	n := testNode(t,
		[]row{r(0, "k", "1"), r(1, "k", "1")},
		[]row{r(0, "k", "1"), r(1, "k", "1"), r(2, "k", "1")},
		[]row{r(0, "k", "1"), r(1, "k", "1")},
	)
	batches, err := GenerateIterating(context.Background(), n, DefaultIteratingSettings(), Options{})
	require.NoError(t, err)
	require.Len(t, batches, 12)

	// later slots vary slowest
	assert.Equal(t, map[string]int{"A": 1, "B": 0, "C": 0}, batches[1].Rows())
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 0}, batches[2].Rows())
	assert.Equal(t, map[string]int{"A": 0, "B": 0, "C": 1}, batches[6].Rows())
}

func TestGenerateIterating_Idempotent(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "s", "1", "t", "a"), r("a1", "s", "2"), r("a2", "s", "1")},
		[]row{r("b0", "s", "2"), r("b1", "s", "1"), r("b2", "s", "1")},
	)
	settings := iterating(Union)
	settings.SkipIncompleteDataSets = true

	first, err := GenerateIterating(context.Background(), n, settings, Options{})
	require.NoError(t, err)
	second, err := GenerateIterating(context.Background(), n, settings, Options{})
	require.NoError(t, err)

	assert.Equal(t, assignments(first), assignments(second))
	for i := range first {
		assert.True(t, first[i].Key().Equal(second[i].Key()))
	}
}

func TestGenerateIterating_Duplicates(t *testing.T) {
	rowsA := []row{r("a0", "sample", "x"), r("a1", "sample", "x")}
	rowsB := []row{r("b0", "sample", "x")}

	settings := DefaultIteratingSettings()
	settings.AllowDuplicateDataSets = false
	_, err := GenerateIterating(context.Background(), testNode(t, rowsA, rowsB), settings, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, slotErrors.ErrDuplicateDataSet)
	assert.True(t, slotErrors.IsMatchingError(err))
	assert.Contains(t, err.Error(), "test-node")
	assert.Contains(t, err.Error(), "sample=x")
	assert.Contains(t, err.Error(), "slot 'A'")

	settings.AllowDuplicateDataSets = true
	batches, err := GenerateIterating(context.Background(), testNode(t, rowsA, rowsB), settings, Options{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]int{{"A": 0, "B": 0}, {"A": 1, "B": 0}}, assignments(batches))
}

func TestGenerateIterating_Completeness(t *testing.T) {
	rowsA := []row{r("a0", "sample", "x"), r("a1", "sample", "y")}
	rowsB := []row{r("b0", "sample", "x")}

	_, err := GenerateIterating(context.Background(), testNode(t, rowsA, rowsB), DefaultIteratingSettings(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, slotErrors.ErrIncompleteDataSet)
	assert.Contains(t, err.Error(), "sample=y")
	assert.Contains(t, err.Error(), "slot 'B'")

	settings := DefaultIteratingSettings()
	settings.SkipIncompleteDataSets = true
	batches, err := GenerateIterating(context.Background(), testNode(t, rowsA, rowsB), settings, Options{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]int{{"A": 0, "B": 0}}, assignments(batches))
}

func TestGenerateIterating_AbsentDiffersFromEmpty(t *testing.T) {
	n := testNode(t, []row{r("a0", "sample", ""), r("a1"), r("a2", "sample", "")})

	settings := iterating(Custom)
	settings.CustomColumns = Columns("sample")
	batches, err := GenerateIterating(context.Background(), n, settings, Options{})
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Equal(t, "sample=", batches[0].Key().String())
	assert.Equal(t, "sample=<absent>", batches[2].Key().String())
	assert.Equal(t, 2, batches[1].Rows()["A"])
	assert.True(t, batches[0].Key().Equal(batches[1].Key()))
	assert.False(t, batches[0].Key().Equal(batches[2].Key()))
}

func TestGenerateIterating_CustomEmptyGroupsEverything(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "s", "1"), r("a1", "s", "2")},
		[]row{r("b0", "t", "1")},
	)
	settings := iterating(Custom)
	settings.AllowDuplicateDataSets = false
	_, err := GenerateIterating(context.Background(), n, settings, Options{})
	assert.ErrorIs(t, err, slotErrors.ErrDuplicateDataSet)

	settings.AllowDuplicateDataSets = true
	batches, err := GenerateIterating(context.Background(), n, settings, Options{})
	require.NoError(t, err)
	assert.Len(t, batches, 2)
	assert.Empty(t, batches[0].Key().Columns())
}

func TestGenerateIterating_Annotations(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "sample", "x", "shared", "from-a")},
		[]row{r("b0", "sample", "x", "shared", "from-b", "extra", "1")},
	)
	params := []annotation.Annotation{annotation.New("threshold", "0.5"), annotation.New("extra", "param")}

	batches, err := GenerateIterating(context.Background(), n, DefaultIteratingSettings(), Options{Parameters: params})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	got := batches[0].Annotations().Map()
	assert.Equal(t, "from-b", got["shared"].Value, "later slots override")
	assert.Equal(t, "param", got["extra"].Value, "parameters are applied last")
	assert.Equal(t, "0.5", got["threshold"].Value)
}

func TestGenerate_ZeroInputs(t *testing.T) {
	n := testNode(t)
	params := []annotation.Annotation{annotation.New("p", "1")}

	batches, err := GenerateIterating(context.Background(), n, DefaultIteratingSettings(), Options{Parameters: params})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0].Rows())
	assert.Equal(t, []annotation.Annotation{annotation.New("p", "1")}, batches[0].Annotations().List())

	merged, err := GenerateMerging(context.Background(), n, DefaultMergingSettings(), Options{Parameters: params})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Empty(t, merged[0].Slots())
}

func TestGenerate_ParameterSlotExcluded(t *testing.T) {
	n := testNode(t, []row{r("a0", "s", "1")}, []row{r("p0", "other", "z")})
	n.SetParameterSlot("B")

	batches, err := GenerateIterating(context.Background(), n, DefaultIteratingSettings(), Options{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"A"}, batches[0].Slots())

	_, err = batches[0].InputData("B")
	assert.ErrorIs(t, err, slotErrors.ErrSlotNotFound)
}

func TestGenerateMerging(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "sample", "x", "frame", "1"), r("a1", "sample", "x", "frame", "2"), r("a2", "sample", "y", "frame", "1")},
		[]row{r("b0", "sample", "x"), r("b1", "sample", "y"), r("b2", "sample", "y")},
	)
	settings := DefaultMergingSettings()
	settings.DataSetMatching = Union

	batches, err := GenerateMerging(context.Background(), n, settings, Options{IgnoredColumns: []string{"frame"}})
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, []int{0, 1}, batches[0].RowsOf("A"))
	assert.Equal(t, []int{0}, batches[0].RowsOf("B"))
	assert.Equal(t, []int{2}, batches[1].RowsOf("A"))
	assert.Equal(t, []int{1, 2}, batches[1].RowsOf("B"))

	frame, _ := batches[0].Annotations().Get("frame")
	assert.Equal(t, `["1","2"]`, frame.Value)
	sample, _ := batches[0].Annotations().Get("sample")
	assert.Equal(t, "x", sample.Value)

	data, err := MergedInputDataAs[string](batches[1], "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, data)

	_, err = MergedInputDataAs[int](batches[1], "B")
	assert.ErrorIs(t, err, slotErrors.ErrTypeMismatch)
}

func TestGenerateMerging_Incomplete(t *testing.T) {
	n := testNode(t,
		[]row{r("a0", "sample", "x"), r("a1", "sample", "y")},
		[]row{r("b0", "sample", "x")},
	)
	_, err := GenerateMerging(context.Background(), n, DefaultMergingSettings(), Options{})
	assert.ErrorIs(t, err, slotErrors.ErrIncompleteDataSet)

	settings := DefaultMergingSettings()
	settings.SkipIncompleteDataSets = true
	batches, err := GenerateMerging(context.Background(), n, settings, Options{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "sample=x", batches[0].Key().String())
}

func TestGenerate_CancelledContext(t *testing.T) {
	n := testNode(t, []row{r("a0", "s", "1")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GenerateIterating(ctx, n, DefaultIteratingSettings(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = GenerateMerging(ctx, n, DefaultMergingSettings(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_ScriptPredicateErrors(t *testing.T) {
	n := testNode(t, []row{r("a0", "sample", "1")}, []row{r("b0", "sample", "1")})
	settings := Settings{
		DataSetMatching: Custom,
		CustomColumns:   []StringPredicate{{Mode: Script, Value: `undefinedFn(value)`}},
	}
	require.NoError(t, settings.Validate())

	_, err := ReferenceColumns(context.Background(), n.DataInputSlots(), settings)
	assert.ErrorContains(t, err, "column script failed")
	_, err = GenerateIterating(context.Background(), n, settings, Options{})
	assert.ErrorContains(t, err, "undefinedFn")
	_, err = GenerateMerging(context.Background(), n, settings, Options{})
	assert.ErrorContains(t, err, "undefinedFn")
}

func TestGenerate_ScriptPredicateInterrupted(t *testing.T) {
	n := testNode(t, []row{r("a0", "sample", "1")})
	settings := Settings{
		DataSetMatching: Custom,
		CustomColumns:   []StringPredicate{{Mode: Script, Value: `while (true) {}`}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := GenerateIterating(ctx, n, settings, Options{})
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not stop after the context deadline")
	}

	match, err := compileScript(`if (value == "loop") { while (true) {} } value == "sample"`, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = match(context.Background(), "loop")
	assert.ErrorContains(t, err, "exceeded 50ms")

	// the same runtime evaluates normally after an interrupt
	ok, err := match(context.Background(), "sample")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatch_InputAndOutput(t *testing.T) {
	n := testNode(t, []row{r(42, "sample", "x")})
	batches, err := GenerateIterating(context.Background(), n, DefaultIteratingSettings(), Options{})
	require.NoError(t, err)
	b := batches[0]

	v, err := InputDataAs[int](b, "A")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = InputDataAs[string](b, "A")
	assert.ErrorIs(t, err, slotErrors.ErrTypeMismatch)
	_, err = b.InputData("out")
	assert.ErrorIs(t, err, slotErrors.ErrWrongSlotDirection)
	_, err = b.InputData("missing")
	assert.ErrorIs(t, err, slotErrors.ErrSlotNotFound)

	own, err := b.InputAnnotations("A")
	require.NoError(t, err)
	assert.Equal(t, []annotation.Annotation{annotation.New("sample", "x")}, own)

	b.Annotations().Add(annotation.New("stage", "1"), annotation.MergeOverwrite)
	require.NoError(t, b.AddOutputData("out", v*2, annotation.New("sample", "override")))
	assert.ErrorIs(t, b.AddOutputData("A", 0), slotErrors.ErrWrongSlotDirection)

	out, err := n.OutputSlot("out")
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount())
	assert.Equal(t, 84, out.Data(0))
	assert.Equal(t, []annotation.Annotation{
		annotation.New("sample", "override"),
		annotation.New("stage", "1"),
	}, out.Annotations(0))
}

func TestCompare(t *testing.T) {
	a := newBatch(nil)
	a.annotations = annotation.NewSet(annotation.New("s", "1"))
	b := newBatch(nil)
	b.annotations = annotation.NewSet(annotation.New("s", "2"))
	c := newBatch(nil)
	c.annotations = annotation.NewSet(annotation.New("s", "1"), annotation.New("t", "0"))

	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.Equal(t, 0, Compare(a, a))
	assert.Equal(t, -1, Compare(a, c))
}

func TestSettings_Decoding(t *testing.T) {
	var fromYAML Settings
	require.NoError(t, yaml.Unmarshal([]byte(`
dataSetMatching: custom
skipIncompleteDataSets: true
customColumns:
  - sample
  - mode: regex
    value: "^ch"
`), &fromYAML))
	assert.Equal(t, Custom, fromYAML.DataSetMatching)
	assert.True(t, fromYAML.SkipIncompleteDataSets)
	assert.Equal(t, []StringPredicate{Eq("sample"), {Mode: Regex, Value: "^ch"}}, fromYAML.CustomColumns)
	require.NoError(t, fromYAML.Validate())

	var fromJSON Settings
	require.NoError(t, json.Unmarshal([]byte(`{"dataSetMatching":"union","customColumns":["a",{"value":"b"}]}`), &fromJSON))
	assert.Equal(t, []StringPredicate{Eq("a"), Eq("b")}, fromJSON.CustomColumns)

	bad := DefaultIteratingSettings()
	bad.DataSetMatching = "fuzzy"
	assert.ErrorIs(t, bad.Validate(), slotErrors.ErrUnknownMatchingStrategy)

	bad = DefaultIteratingSettings()
	bad.CustomColumns = []StringPredicate{{Mode: Regex, Value: "("}}
	assert.Error(t, bad.Validate())
}
