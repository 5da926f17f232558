package algorithm

import (
	"fmt"
	"sort"

	"github.com/wehubfusion/slotflow/pkg/annotation"
)

// Parameters holds the user-supplied parameters of a node as decoded from a
// pipeline file.
type Parameters map[string]any

// Has checks if a parameter exists.
func (p Parameters) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns a parameter as string.
func (p Parameters) String(key string) string {
	return p.StringOr(key, "")
}

// StringOr returns a parameter as string with default.
func (p Parameters) StringOr(key, defaultVal string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// BoolOr returns a parameter as bool with default.
func (p Parameters) BoolOr(key string, defaultVal bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return defaultVal
}

// IntOr returns a parameter as int with default. YAML and JSON numbers are
// both accepted.
func (p Parameters) IntOr(key string, defaultVal int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultVal
}

// Slice returns a parameter as a slice.
func (p Parameters) Slice(key string) []any {
	if v, ok := p[key].([]any); ok {
		return v
	}
	return nil
}

// StringSlice returns the string elements of a list parameter.
func (p Parameters) StringSlice(key string) []string {
	slice := p.Slice(key)
	if slice == nil {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// Map returns a parameter as a map.
func (p Parameters) Map(key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Annotations converts a map parameter into annotations sorted by name.
// Non-string values are formatted with %v.
func (p Parameters) Annotations(key string) []annotation.Annotation {
	m := p.Map(key)
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]annotation.Annotation, 0, len(names))
	for _, name := range names {
		value, ok := m[name].(string)
		if !ok {
			value = fmt.Sprintf("%v", m[name])
		}
		result = append(result, annotation.New(name, value))
	}
	return result
}
