package nodes

import (
	"context"
	"fmt"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/annotation"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/node"
)

// Annotate copies every input row to its output with additional annotations.
//
//	annotations: annotations to add
//	overwrite:   replace annotations already present on the row (default true)
//	fromField:   {annotation: field} copies fields of object rows into annotations
type Annotate struct {
	*algorithm.SimpleIterating
	annotations []annotation.Annotation
	fromField   map[string]string
	mode        annotation.MergeMode
}

func newAnnotate(n *node.Node, params algorithm.Parameters) (algorithm.Runnable, error) {
	a := &Annotate{
		annotations: params.Annotations("annotations"),
		mode:        annotation.ModeFor(params.BoolOr("overwrite", true)),
	}
	if m := params.Map("fromField"); len(m) > 0 {
		a.fromField = make(map[string]string, len(m))
		for name, field := range m {
			f, ok := field.(string)
			if !ok || f == "" {
				return nil, fmt.Errorf("fromField.%s must name a field", name)
			}
			a.fromField[name] = f
		}
	}
	if len(a.annotations) == 0 && len(a.fromField) == 0 {
		return nil, fmt.Errorf("no annotations configured")
	}

	alg, err := algorithm.NewSimpleIterating(n, a.annotate,
		algorithm.WithParallelization(params.IntOr("batchSize", 1)))
	if err != nil {
		return nil, err
	}
	a.SimpleIterating = alg
	return a, nil
}

func (a *Annotate) annotate(_ context.Context, b *batch.Batch) error {
	data, err := b.InputData("input")
	if err != nil {
		return err
	}

	anns := b.Annotations().Clone()
	anns.AddAll(a.annotations, a.mode)
	if len(a.fromField) > 0 {
		obj, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("row %d of %s is %T, fromField needs an object", b.Index(), b.Node().Name(), data)
		}
		for name, field := range a.fromField {
			v, ok := obj[field]
			if !ok {
				continue
			}
			anns.Add(annotation.New(name, fmt.Sprintf("%v", v)), a.mode)
		}
	}
	return b.AddOutputData("output", data, anns.List()...)
}
