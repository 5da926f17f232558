package slot

import (
	"sort"
	"sync"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	"github.com/wehubfusion/slotflow/pkg/datatype"
)

// Row is one data item with its annotations.
type Row struct {
	Data        any
	Annotations []annotation.Annotation
}

// DataSlot is a concrete slot of a node holding an append-only list of rows.
// Appends are safe for concurrent use.
type DataSlot struct {
	mu           sync.RWMutex
	definition   Definition
	owner        string
	acceptedType datatype.Handle
	data         []any
	annotations  []*annotation.Set
	columns      []string
	columnSet    map[string]struct{}
}

// NewDataSlot creates an empty slot owned by the named node.
func NewDataSlot(def Definition, owner string) *DataSlot {
	return &DataSlot{
		definition:   def,
		owner:        owner,
		acceptedType: def.AcceptedType,
		columnSet:    make(map[string]struct{}),
	}
}

// Name returns the slot name.
func (s *DataSlot) Name() string { return s.definition.Name }

// Direction returns whether this is an input or output slot.
func (s *DataSlot) Direction() Direction { return s.definition.Direction }

// IsInput reports whether this is an input slot.
func (s *DataSlot) IsInput() bool { return s.definition.Direction == Input }

// IsOutput reports whether this is an output slot.
func (s *DataSlot) IsOutput() bool { return s.definition.Direction == Output }

// Definition returns the definition the slot was created from.
func (s *DataSlot) Definition() Definition { return s.definition }

// Owner returns the identifier of the owning node.
func (s *DataSlot) Owner() string { return s.owner }

// AcceptedType returns the effective accepted type.
func (s *DataSlot) AcceptedType() datatype.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptedType
}

// SetAcceptedType changes the effective accepted type and reports whether it changed.
func (s *DataSlot) SetAcceptedType(h datatype.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptedType == h {
		return false
	}
	s.acceptedType = h
	return true
}

// AddData appends a row. Annotations with clashing names are combined using mode.
// The row and its annotations become visible together.
func (s *DataSlot) AddData(data any, annotations []annotation.Annotation, mode annotation.MergeMode) int {
	set := &annotation.Set{}
	set.AddAll(annotations, mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data)
	s.annotations = append(s.annotations, set)
	for _, name := range set.Names() {
		if _, ok := s.columnSet[name]; !ok {
			s.columnSet[name] = struct{}{}
			s.columns = append(s.columns, name)
		}
	}
	return len(s.data) - 1
}

// AddRow appends a row. Repeated annotation names keep the last value.
func (s *DataSlot) AddRow(r Row) int {
	return s.AddData(r.Data, r.Annotations, annotation.MergeOverwrite)
}

// CopyFrom appends every row of other.
func (s *DataSlot) CopyFrom(other *DataSlot) {
	for _, r := range other.Rows() {
		s.AddRow(r)
	}
}

// RowCount returns the number of rows.
func (s *DataSlot) RowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Data returns the data item of row.
func (s *DataSlot) Data(row int) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[row]
}

// Annotations returns the annotations of row in insertion order.
func (s *DataSlot) Annotations(row int) []annotation.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotations[row].List()
}

// Annotation returns a single annotation of row.
func (s *DataSlot) Annotation(row int, name string) (annotation.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotations[row].Get(name)
}

// AnnotationColumns returns every annotation name used by any row, in first-seen order.
func (s *DataSlot) AnnotationColumns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.columns...)
}

// Rows returns a snapshot of all rows.
func (s *DataSlot) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]Row, len(s.data))
	for i := range s.data {
		rows[i] = Row{Data: s.data[i], Annotations: s.annotations[i].List()}
	}
	return rows
}

// Clear removes all rows.
func (s *DataSlot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.annotations = nil
	s.columns = nil
	s.columnSet = make(map[string]struct{})
}

// SerializedRow is the node-independent form of a row.
type SerializedRow struct {
	Data        any               `json:"data" yaml:"data"`
	Annotations map[string]string `json:"annotations" yaml:"annotations"`
}

// Serialize returns the rows in their node-independent form.
func (s *DataSlot) Serialize() []SerializedRow {
	rows := s.Rows()
	result := make([]SerializedRow, len(rows))
	for i, r := range rows {
		m := make(map[string]string, len(r.Annotations))
		for _, a := range r.Annotations {
			m[a.Name] = a.Value
		}
		result[i] = SerializedRow{Data: r.Data, Annotations: m}
	}
	return result
}

// Deserialize appends serialized rows. Annotations are added in name order.
func (s *DataSlot) Deserialize(rows []SerializedRow) {
	for _, r := range rows {
		s.AddData(r.Data, sortedAnnotations(r.Annotations), annotation.MergeOverwrite)
	}
}

func sortedAnnotations(m map[string]string) []annotation.Annotation {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]annotation.Annotation, 0, len(names))
	for _, name := range names {
		result = append(result, annotation.New(name, m[name]))
	}
	return result
}
