package annotation

import "strings"

// Set is an insertion-ordered collection of annotations with unique names.
// The zero value is ready to use.
type Set struct {
	order  []string
	values map[string]string
}

// NewSet creates a set from annotations, later entries overwriting earlier ones.
func NewSet(annotations ...Annotation) *Set {
	s := &Set{}
	s.AddAll(annotations, MergeOverwrite)
	return s
}

// Add adds an annotation using the given merge mode.
func (s *Set) Add(a Annotation, mode MergeMode) {
	if mode == MergeDiscard {
		return
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	existing, ok := s.values[a.Name]
	if !ok {
		s.order = append(s.order, a.Name)
		s.values[a.Name] = a.Value
		return
	}
	if merged, accept := mode.Merge(existing, a.Value); accept {
		s.values[a.Name] = merged
	}
}

// Put adds an annotation, replacing an existing one only if overwrite is set.
func (s *Set) Put(a Annotation, overwrite bool) {
	s.Add(a, ModeFor(overwrite))
}

// AddAll adds every annotation using the given merge mode.
func (s *Set) AddAll(annotations []Annotation, mode MergeMode) {
	for _, a := range annotations {
		s.Add(a, mode)
	}
}

// Get returns the annotation with the given name.
func (s *Set) Get(name string) (Annotation, bool) {
	if s == nil || s.values == nil {
		return Annotation{}, false
	}
	v, ok := s.values[name]
	if !ok {
		return Annotation{}, false
	}
	return Annotation{Name: name, Value: v}, true
}

// Has reports whether an annotation with the given name exists.
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Remove deletes the annotation with the given name.
func (s *Set) Remove(name string) {
	if s.values == nil {
		return
	}
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of annotations.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns the annotation names in insertion order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// List returns the annotations in insertion order.
func (s *Set) List() []Annotation {
	if s == nil {
		return nil
	}
	list := make([]Annotation, 0, len(s.order))
	for _, name := range s.order {
		list = append(list, Annotation{Name: name, Value: s.values[name]})
	}
	return list
}

// Map returns a copy of the annotations keyed by name.
func (s *Set) Map() map[string]Annotation {
	result := make(map[string]Annotation, s.Len())
	for _, a := range s.List() {
		result[a.Name] = a
	}
	return result
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := &Set{}
	if s == nil {
		return c
	}
	c.order = make([]string, len(s.order))
	copy(c.order, s.order)
	c.values = make(map[string]string, len(s.values))
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

// String renders the set as comma separated name=value pairs.
func (s *Set) String() string {
	parts := make([]string, 0, s.Len())
	for _, a := range s.List() {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
