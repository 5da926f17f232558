// Package algorithm provides the node variants that process their inputs
// batch by batch: iterating nodes see one row per input slot, merging nodes
// see every matching row at once.
package algorithm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/slotflow/pkg/annotation"
	"github.com/wehubfusion/slotflow/pkg/batch"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/scheduler"
)

// Runnable is a node that can process the data in its input slots.
type Runnable interface {
	// Node returns the graph node whose slots are read and written.
	Node() *node.Node
	// RunBatches processes all input rows. Cancelling ctx stops further
	// batches from starting.
	RunBatches(ctx context.Context, cfg RunConfig) error
	// State returns the scheduler state of the last run.
	State() scheduler.State
	// Executed returns the number of batches the last run completed.
	Executed() int
}

// Configurable is implemented by algorithms whose row matching can be
// configured.
type Configurable interface {
	MatchingSettings() batch.Settings
	Configure(settings batch.Settings) error
}

// PassThrough copies the rows of an input slot to an output slot instead of
// running batches.
type PassThrough struct {
	Input  string
	Output string
}

// Option configures the shared part of an algorithm.
type Option func(*Base)

// WithParallelization marks the algorithm as safe to run its batches
// concurrently, batchSize batches per pool task.
func WithParallelization(batchSize int) Option {
	return func(b *Base) {
		b.parallel = true
		b.batchSize = batchSize
	}
}

// WithPassThrough enables pass-through from input to output.
func WithPassThrough(input, output string) Option {
	return func(b *Base) {
		b.passThrough = &PassThrough{Input: input, Output: output}
	}
}

// WithParameterAnnotations adds annotations to every batch after matching.
func WithParameterAnnotations(anns ...annotation.Annotation) Option {
	return func(b *Base) {
		b.parameters = append(b.parameters, anns...)
	}
}

// Base holds what every algorithm variant shares.
type Base struct {
	node        *node.Node
	parallel    bool
	batchSize   int
	passThrough *PassThrough
	parameters  []annotation.Annotation
	last        *scheduler.Scheduler
}

func newBase(n *node.Node, opts []Option) Base {
	b := Base{node: n}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Node returns the graph node.
func (b *Base) Node() *node.Node { return b.node }

// SupportsParallelization reports whether batches may run concurrently.
func (b *Base) SupportsParallelization() bool { return b.parallel }

// PassThroughConfig returns the pass-through configuration, or nil.
func (b *Base) PassThroughConfig() *PassThrough { return b.passThrough }

// SetPassThrough enables pass-through, or disables it when p is nil.
func (b *Base) SetPassThrough(p *PassThrough) { b.passThrough = p }

// ParameterAnnotations returns the annotations added to every batch.
func (b *Base) ParameterAnnotations() []annotation.Annotation {
	return append([]annotation.Annotation(nil), b.parameters...)
}

// State returns the scheduler state of the last run.
func (b *Base) State() scheduler.State {
	if b.last == nil {
		return scheduler.Idle
	}
	return b.last.State()
}

// Executed returns the number of batches the last run completed.
func (b *Base) Executed() int {
	if b.last == nil {
		return 0
	}
	return b.last.Executed()
}

func (b *Base) newScheduler(cfg RunConfig) *scheduler.Scheduler {
	s := scheduler.New(scheduler.Config{
		Node:      b.node.Name(),
		Pool:      cfg.Pool,
		Parallel:  b.parallel && cfg.ParallelizationEnabled,
		BatchSize: b.batchSize,
		Logger:    cfg.Logger,
		Progress:  cfg.Progress,
	})
	b.last = s
	return s
}

// copyThrough copies every row of the pass-through input to its output.
func (b *Base) copyThrough(context.Context) error {
	in, err := b.node.InputSlot(b.passThrough.Input)
	if err != nil {
		return err
	}
	out, err := b.node.OutputSlot(b.passThrough.Output)
	if err != nil {
		return err
	}
	out.CopyFrom(in)
	return nil
}

// run wraps a node run in a span and logs its outcome.
func (b *Base) run(ctx context.Context, cfg RunConfig, kind string, body func(ctx context.Context, s *scheduler.Scheduler) error) error {
	cfg.Validate()
	ctx, span := cfg.Tracer.Start(ctx, "algorithm.RunBatches",
		trace.WithAttributes(
			attribute.String("node.id", b.node.ID()),
			attribute.String("node.type", b.node.TypeID()),
			attribute.String("algorithm.kind", kind),
		))
	defer span.End()

	s := b.newScheduler(cfg)
	start := time.Now()

	var err error
	if b.passThrough != nil {
		span.SetAttributes(attribute.Bool("algorithm.pass_through", true))
		err = s.PassThrough(ctx, b.copyThrough)
	} else {
		err = body(ctx, s)
	}

	span.SetAttributes(
		attribute.Int("batch.executed", s.Executed()),
		attribute.String("scheduler.state", s.State().String()),
		attribute.Int64("processing.duration_ms", time.Since(start).Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cfg.Logger.Error("Node run failed",
			zap.String("node", b.node.Name()),
			zap.Error(err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	cfg.Logger.Debug("Node run finished",
		zap.String("node", b.node.Name()),
		zap.String("state", s.State().String()),
		zap.Int("batches", s.Executed()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// IteratingFunc processes one iterating batch.
type IteratingFunc func(ctx context.Context, b *batch.Batch) error

// Iterating runs its function once per combination of matching rows, one row
// of every data input slot at a time.
type Iterating struct {
	Base
	Settings batch.Settings
	process  IteratingFunc
}

// NewIterating creates an iterating algorithm with default matching settings.
func NewIterating(n *node.Node, fn IteratingFunc, opts ...Option) *Iterating {
	return &Iterating{
		Base:     newBase(n, opts),
		Settings: batch.DefaultIteratingSettings(),
		process:  fn,
	}
}

// GenerateBatches matches the input rows into batches.
func (a *Iterating) GenerateBatches(ctx context.Context) ([]*batch.Batch, error) {
	return batch.GenerateIterating(ctx, a.node, a.Settings, batch.Options{Parameters: a.parameters})
}

// MatchingSettings returns the current matching settings.
func (a *Iterating) MatchingSettings() batch.Settings { return a.Settings }

// Configure validates and applies matching settings.
func (a *Iterating) Configure(settings batch.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	a.Settings = settings
	return nil
}

// RunBatches implements Runnable.
func (a *Iterating) RunBatches(ctx context.Context, cfg RunConfig) error {
	return a.run(ctx, cfg, "iterating", func(ctx context.Context, s *scheduler.Scheduler) error {
		return scheduler.Run(ctx, s, a.GenerateBatches, a.process)
	})
}

// MergingFunc processes one merging batch.
type MergingFunc func(ctx context.Context, b *batch.MergingBatch) error

// Merging runs its function once per batch key with every matching row of
// every data input slot.
type Merging struct {
	Base
	Settings batch.Settings
	// IgnoredColumns are never used to match rows.
	IgnoredColumns []string
	// SortBatches runs batches ordered by their merged annotations
	// instead of in generation order.
	SortBatches bool
	process     MergingFunc
}

// NewMerging creates a merging algorithm with default matching settings.
func NewMerging(n *node.Node, fn MergingFunc, opts ...Option) *Merging {
	return &Merging{
		Base:     newBase(n, opts),
		Settings: batch.DefaultMergingSettings(),
		process:  fn,
	}
}

// GenerateBatches matches the input rows into batches.
func (a *Merging) GenerateBatches(ctx context.Context) ([]*batch.MergingBatch, error) {
	batches, err := batch.GenerateMerging(ctx, a.node, a.Settings, batch.Options{
		Parameters:     a.parameters,
		IgnoredColumns: a.IgnoredColumns,
	})
	if err != nil {
		return nil, err
	}
	if a.SortBatches {
		sort.SliceStable(batches, func(i, j int) bool {
			return batch.Compare(batches[i], batches[j]) < 0
		})
	}
	return batches, nil
}

// MatchingSettings returns the current matching settings.
func (a *Merging) MatchingSettings() batch.Settings { return a.Settings }

// Configure validates and applies matching settings.
func (a *Merging) Configure(settings batch.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	a.Settings = settings
	return nil
}

// RunBatches implements Runnable.
func (a *Merging) RunBatches(ctx context.Context, cfg RunConfig) error {
	return a.run(ctx, cfg, "merging", func(ctx context.Context, s *scheduler.Scheduler) error {
		return scheduler.Run(ctx, s, a.GenerateBatches, a.process)
	})
}

// SimpleIterating runs its function once per row of its single data input
// slot, or once if the node has no data input.
type SimpleIterating struct {
	Iterating
}

// NewSimpleIterating creates a simple iterating algorithm. The node must not
// have more than one data input slot.
func NewSimpleIterating(n *node.Node, fn IteratingFunc, opts ...Option) (*SimpleIterating, error) {
	a := &SimpleIterating{Iterating: *NewIterating(n, fn, opts...)}
	a.Settings = batch.Settings{
		DataSetMatching:        batch.Custom,
		AllowDuplicateDataSets: true,
	}
	if err := a.checkInputs(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SimpleIterating) checkInputs() error {
	if inputs := a.node.DataInputSlots(); len(inputs) > 1 {
		return slotErrors.NewError("TYPE_MISMATCH",
			fmt.Sprintf("node '%s' supports at most one data input slot, found %d", a.node.Name(), len(inputs)),
			slotErrors.ErrTypeMismatch)
	}
	return nil
}

// GenerateBatches returns one batch per input row.
func (a *SimpleIterating) GenerateBatches(ctx context.Context) ([]*batch.Batch, error) {
	if err := a.checkInputs(); err != nil {
		return nil, err
	}
	return a.Iterating.GenerateBatches(ctx)
}

// Configure applies only the annotation merge mode; simple iterating
// algorithms always match row by row.
func (a *SimpleIterating) Configure(settings batch.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	a.Settings.AnnotationMergeMode = settings.AnnotationMergeMode
	return nil
}

// RunBatches implements Runnable.
func (a *SimpleIterating) RunBatches(ctx context.Context, cfg RunConfig) error {
	return a.run(ctx, cfg, "simple-iterating", func(ctx context.Context, s *scheduler.Scheduler) error {
		return scheduler.Run(ctx, s, a.GenerateBatches, a.process)
	})
}

var (
	_ Runnable = (*Iterating)(nil)
	_ Runnable = (*Merging)(nil)
	_ Runnable = (*SimpleIterating)(nil)

	_ Configurable = (*Iterating)(nil)
	_ Configurable = (*Merging)(nil)
	_ Configurable = (*SimpleIterating)(nil)
)
