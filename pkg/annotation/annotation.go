// Package annotation provides the key/value labels attached to data rows and the
// rules for combining them when rows are merged into batches or output slots.
package annotation

import (
	"encoding/json"
	"sort"
	"strings"
)

// Annotation is an immutable key/value label attached to a data row.
// Identity is defined by Name.
type Annotation struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// New creates an annotation.
func New(name, value string) Annotation {
	return Annotation{Name: name, Value: value}
}

// String renders the annotation as name=value.
func (a Annotation) String() string {
	return a.Name + "=" + a.Value
}

// MergeMode determines what happens when an annotation is added to a set that
// already holds an annotation with the same name.
type MergeMode string

const (
	// MergeOverwrite replaces the existing value (last writer wins).
	MergeOverwrite MergeMode = "overwrite-existing"
	// MergeSkipExisting keeps the existing value (first writer wins).
	MergeSkipExisting MergeMode = "skip-existing"
	// MergeValues combines both values into a sorted, de-duplicated JSON list.
	MergeValues MergeMode = "merge"
	// MergeDiscard drops incoming annotations entirely.
	MergeDiscard MergeMode = "discard"
)

// ModeFor maps the overwrite flag onto a merge mode.
func ModeFor(overwrite bool) MergeMode {
	if overwrite {
		return MergeOverwrite
	}
	return MergeSkipExisting
}

// Valid reports whether m is a known merge mode.
func (m MergeMode) Valid() bool {
	switch m {
	case MergeOverwrite, MergeSkipExisting, MergeValues, MergeDiscard:
		return true
	}
	return false
}

// Merge combines an existing value with an incoming one according to the mode.
// The second return value is false if the incoming value must be ignored.
func (m MergeMode) Merge(existing, incoming string) (string, bool) {
	switch m {
	case MergeSkipExisting, MergeDiscard:
		return existing, false
	case MergeValues:
		values := append(SplitList(existing), SplitList(incoming)...)
		return Collapse(values), true
	default:
		return incoming, true
	}
}

// Collapse reduces values to a single annotation value. One distinct value is
// returned as is; several distinct values are sorted and encoded as a JSON array.
func Collapse(values []string) string {
	distinct := Distinct(values)
	switch len(distinct) {
	case 0:
		return ""
	case 1:
		return distinct[0]
	}
	encoded, err := json.Marshal(distinct)
	if err != nil {
		// []string always marshals
		return strings.Join(distinct, ",")
	}
	return string(encoded)
}

// Distinct returns the sorted set of values.
func Distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}

// SplitList expands a value produced by Collapse back into its components.
// Values that are not JSON string arrays are returned as a single element.
func SplitList(value string) []string {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err == nil {
			return list
		}
	}
	return []string{value}
}
