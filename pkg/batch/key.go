package batch

import (
	"strconv"
	"strings"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// KeyEntry is one reference column of a Key. Present is false if the row has
// no annotation with that name, which is distinct from an empty value.
type KeyEntry struct {
	Column  string
	Value   string
	Present bool
}

// Key is the tuple of annotation values used to match rows across slots.
type Key struct {
	entries []KeyEntry
}

// NewKey builds the key of a slot row over the reference columns.
func NewKey(s *slot.DataSlot, row int, columns []string) Key {
	entries := make([]KeyEntry, len(columns))
	for i, column := range columns {
		a, ok := s.Annotation(row, column)
		entries[i] = KeyEntry{Column: column, Value: a.Value, Present: ok}
	}
	return Key{entries: entries}
}

// Entries returns the key entries in reference column order.
func (k Key) Entries() []KeyEntry {
	return append([]KeyEntry(nil), k.entries...)
}

// Columns returns the reference columns.
func (k Key) Columns() []string {
	result := make([]string, len(k.entries))
	for i, e := range k.entries {
		result[i] = e.Column
	}
	return result
}

// Get returns the annotation stored for column, if present.
func (k Key) Get(column string) (annotation.Annotation, bool) {
	for _, e := range k.entries {
		if e.Column == column && e.Present {
			return annotation.New(e.Column, e.Value), true
		}
	}
	return annotation.Annotation{}, false
}

// Equal reports whether both keys hold the same entries.
func (k Key) Equal(o Key) bool {
	if len(k.entries) != len(o.entries) {
		return false
	}
	for i := range k.entries {
		if k.entries[i] != o.entries[i] {
			return false
		}
	}
	return true
}

// String renders the key as name=value pairs. Absent columns are shown as <absent>.
func (k Key) String() string {
	parts := make([]string, len(k.entries))
	for i, e := range k.entries {
		if e.Present {
			parts[i] = e.Column + "=" + e.Value
		} else {
			parts[i] = e.Column + "=<absent>"
		}
	}
	return strings.Join(parts, ", ")
}

// id is an unambiguous encoding used for bucketing.
func (k Key) id() string {
	var b strings.Builder
	for _, e := range k.entries {
		b.WriteString(strconv.Quote(e.Column))
		if e.Present {
			b.WriteByte('=')
			b.WriteString(strconv.Quote(e.Value))
		} else {
			b.WriteByte('!')
		}
		b.WriteByte(';')
	}
	return b.String()
}
