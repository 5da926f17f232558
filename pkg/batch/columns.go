package batch

import (
	"context"
	"fmt"

	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// ReferenceColumns computes the annotation columns rows are matched on.
func ReferenceColumns(ctx context.Context, slots []*slot.DataSlot, settings Settings) ([]string, error) {
	switch settings.DataSetMatching {
	case Union:
		return unionColumns(slots), nil
	case Intersection:
		return intersectionColumns(slots), nil
	case Custom:
		return customColumns(ctx, slots, settings.CustomColumns, settings.InvertCustomColumns)
	}
	return nil, fmt.Errorf("%w: %q", slotErrors.ErrUnknownMatchingStrategy, settings.DataSetMatching)
}

func unionColumns(slots []*slot.DataSlot) []string {
	var result []string
	seen := make(map[string]bool)
	for _, s := range slots {
		for _, c := range s.AnnotationColumns() {
			if !seen[c] {
				seen[c] = true
				result = append(result, c)
			}
		}
	}
	return result
}

func intersectionColumns(slots []*slot.DataSlot) []string {
	if len(slots) == 0 {
		return nil
	}
	var result []string
	for _, c := range slots[0].AnnotationColumns() {
		inAll := true
		for _, other := range slots[1:] {
			if !contains(other.AnnotationColumns(), c) {
				inAll = false
				break
			}
		}
		if inAll {
			result = append(result, c)
		}
	}
	return result
}

// customColumns filters the union of columns through the predicates. Plain
// Equals predicates naming a column that no slot carries are kept as well.
func customColumns(ctx context.Context, slots []*slot.DataSlot, predicates []StringPredicate, invert bool) ([]string, error) {
	matchers := make([]Matcher, 0, len(predicates))
	for _, p := range predicates {
		m, err := p.Compile()
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	matches := func(column string) (bool, error) {
		for _, m := range matchers {
			ok, err := m(ctx, column)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}

	union := unionColumns(slots)
	var result []string
	for _, c := range union {
		ok, err := matches(c)
		if err != nil {
			return nil, err
		}
		if ok != invert {
			result = append(result, c)
		}
	}
	if invert {
		return result, nil
	}
	for _, p := range predicates {
		if (p.Mode == Equals || p.Mode == "") && !contains(union, p.Value) && !contains(result, p.Value) {
			result = append(result, p.Value)
		}
	}
	return result, nil
}

func subtract(columns, ignored []string) []string {
	if len(ignored) == 0 {
		return columns
	}
	var result []string
	for _, c := range columns {
		if !contains(ignored, c) {
			result = append(result, c)
		}
	}
	return result
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
