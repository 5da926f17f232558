package batch

import (
	"fmt"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
)

// Strategy selects the reference columns used to match rows across slots.
type Strategy string

const (
	// Union matches on every annotation column present in any input slot.
	Union Strategy = "union"
	// Intersection matches on the annotation columns present in all input slots.
	Intersection Strategy = "intersection"
	// Custom matches on the columns selected by user predicates.
	Custom Strategy = "custom"
)

// Settings controls batch generation. Zero values of the boolean flags match
// their defaults except AllowDuplicateDataSets; use the Default* constructors.
type Settings struct {
	DataSetMatching        Strategy             `json:"dataSetMatching" yaml:"dataSetMatching"`
	AllowDuplicateDataSets bool                 `json:"allowDuplicateDataSets" yaml:"allowDuplicateDataSets"`
	SkipIncompleteDataSets bool                 `json:"skipIncompleteDataSets" yaml:"skipIncompleteDataSets"`
	CustomColumns          []StringPredicate    `json:"customColumns" yaml:"customColumns"`
	InvertCustomColumns    bool                 `json:"invertCustomColumns" yaml:"invertCustomColumns"`
	AnnotationMergeMode    annotation.MergeMode `json:"annotationMergeMode" yaml:"annotationMergeMode"`
}

// DefaultIteratingSettings returns the defaults for one-row-per-slot batches.
func DefaultIteratingSettings() Settings {
	return Settings{
		DataSetMatching:        Intersection,
		AllowDuplicateDataSets: true,
		AnnotationMergeMode:    annotation.MergeOverwrite,
	}
}

// DefaultMergingSettings returns the defaults for all-rows-per-slot batches.
// AllowDuplicateDataSets has no effect on merging batches.
func DefaultMergingSettings() Settings {
	return Settings{
		DataSetMatching:        Intersection,
		AllowDuplicateDataSets: true,
		AnnotationMergeMode:    annotation.MergeValues,
	}
}

// Validate checks the strategy, the merge mode and every custom predicate.
func (s Settings) Validate() error {
	switch s.DataSetMatching {
	case Union, Intersection, Custom:
	default:
		return fmt.Errorf("%w: %q", slotErrors.ErrUnknownMatchingStrategy, s.DataSetMatching)
	}
	if s.AnnotationMergeMode != "" && !s.AnnotationMergeMode.Valid() {
		return fmt.Errorf("unknown annotation merge mode %q", s.AnnotationMergeMode)
	}
	for _, p := range s.CustomColumns {
		if _, err := p.Compile(); err != nil {
			return err
		}
	}
	return nil
}

func (s Settings) mergeMode(fallback annotation.MergeMode) annotation.MergeMode {
	if s.AnnotationMergeMode == "" {
		return fallback
	}
	return s.AnnotationMergeMode
}
