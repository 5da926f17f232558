package nodes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/node"
)

// DefaultFilterTimeout bounds a single script evaluation.
const DefaultFilterTimeout = time.Second

// Filter keeps the input rows for which a JavaScript expression is truthy.
// The script sees the row as `data` and its annotations as `annotations`.
//
//	script:    the expression, its completion value decides
//	timeoutMs: per-row evaluation limit
//	batchSize: rows per parallel task
type Filter struct {
	*algorithm.SimpleIterating
	program *goja.Program
	timeout time.Duration
	vms     sync.Pool
}

func newFilter(n *node.Node, params algorithm.Parameters) (algorithm.Runnable, error) {
	script := params.String("script")
	if script == "" {
		return nil, fmt.Errorf("script is required")
	}
	program, err := goja.Compile(n.Name(), script, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	f := &Filter{
		program: program,
		timeout: time.Duration(params.IntOr("timeoutMs", int(DefaultFilterTimeout/time.Millisecond))) * time.Millisecond,
	}
	// goja runtimes are not goroutine safe; each parallel task takes its own.
	f.vms.New = func() any { return goja.New() }

	alg, err := algorithm.NewSimpleIterating(n, f.filter,
		algorithm.WithParallelization(params.IntOr("batchSize", 1)))
	if err != nil {
		return nil, err
	}
	f.SimpleIterating = alg
	return f, nil
}

func (f *Filter) filter(ctx context.Context, b *batch.Batch) error {
	data, err := b.InputData("input")
	if err != nil {
		return err
	}
	anns := make(map[string]string, b.Annotations().Len())
	for _, a := range b.Annotations().List() {
		anns[a.Name] = a.Value
	}
	keep, err := f.evaluate(ctx, data, anns)
	if err != nil {
		return fmt.Errorf("row %d: %w", b.Index(), err)
	}
	if !keep {
		return nil
	}
	return b.AddOutputData("output", data)
}

func (f *Filter) evaluate(ctx context.Context, data any, anns map[string]string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	vm := f.vms.Get().(*goja.Runtime)
	var (
		mu       sync.Mutex
		finished bool
	)
	interrupt := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			vm.Interrupt(v)
		}
	}
	defer func() {
		mu.Lock()
		finished = true
		mu.Unlock()
		vm.ClearInterrupt()
		f.vms.Put(vm)
	}()

	timer := time.AfterFunc(f.timeout, func() { interrupt("execution timeout") })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })
	defer stop()

	if err := vm.Set("data", data); err != nil {
		return false, fmt.Errorf("failed to set data: %w", err)
	}
	if err := vm.Set("annotations", anns); err != nil {
		return false, fmt.Errorf("failed to set annotations: %w", err)
	}

	value, err := vm.RunProgram(f.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause := ctx.Err(); cause != nil {
				return false, cause
			}
			return false, fmt.Errorf("script exceeded %s", f.timeout)
		}
		return false, fmt.Errorf("script failed: %w", err)
	}
	return value.ToBoolean(), nil
}
