// Package scheduler executes the data batches generated for a node, either in
// generation order or across the shared worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/slotflow/pkg/batch"
	"github.com/wehubfusion/slotflow/pkg/concurrency"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/progress"
)

// State is the lifecycle state of a scheduler run.
type State int32

const (
	Idle State = iota
	Preparing
	Executing
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Done reports whether s is a final state.
func (s State) Done() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Mode names how batches were dispatched.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Config holds the scheduler settings for one node.
type Config struct {
	// Node is the display name used in errors, logs and progress.
	Node string
	// Pool is the shared worker pool. Nil forces sequential execution.
	Pool *concurrency.Pool
	// Parallel is true when the node supports parallelization and the run
	// enables it.
	Parallel bool
	// BatchSize is the number of batches per pool task (default 1).
	BatchSize int
	Logger    *zap.Logger
	Progress  progress.Reporter
}

// Scheduler runs the batches of a node. A scheduler may be reused for
// consecutive runs but not for concurrent ones.
type Scheduler struct {
	cfg      Config
	state    atomic.Int32
	executed atomic.Int64
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.Nop
	}
	return &Scheduler{cfg: cfg}
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Executed returns how many batch callbacks completed without error in the
// last run.
func (s *Scheduler) Executed() int { return int(s.executed.Load()) }

// UseParallel reports whether batches go to the worker pool. Parallel
// execution needs node support, a pool and more than one pool thread.
func (s *Scheduler) UseParallel() bool {
	return s.cfg.Parallel && s.cfg.Pool != nil && s.cfg.Pool.MaxThreads() > 1
}

// Mode returns the dispatch mode UseParallel selects.
func (s *Scheduler) Mode() Mode {
	if s.UseParallel() {
		return ModeParallel
	}
	return ModeSequential
}

func (s *Scheduler) set(st State) { s.state.Store(int32(st)) }

func (s *Scheduler) reset() {
	s.executed.Store(0)
	s.set(Preparing)
}

// PassThrough skips batch generation and execution and runs fn instead.
func (s *Scheduler) PassThrough(ctx context.Context, fn func(ctx context.Context) error) error {
	s.reset()
	if ctx.Err() != nil {
		s.set(Cancelled)
		return nil
	}
	s.set(Executing)
	if err := fn(ctx); err != nil {
		s.set(Failed)
		return fmt.Errorf("pass-through of node '%s' failed: %w", s.cfg.Node, err)
	}
	s.set(Completed)
	return nil
}

// Run generates the batches and invokes fn once per batch. A cancelled
// context stops further batches from starting and is not an error; rows
// written by finished batches stay. Callback failures are returned as
// *errors.ExecutionError.
func Run[T any](ctx context.Context, s *Scheduler, generate func(ctx context.Context) ([]T, error), fn func(ctx context.Context, batch T) error) error {
	s.reset()
	if ctx.Err() != nil {
		s.set(Cancelled)
		return nil
	}

	batches, err := generate(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			s.set(Cancelled)
			return nil
		}
		s.set(Failed)
		return err
	}
	if ctx.Err() != nil {
		s.set(Cancelled)
		return nil
	}

	s.set(Executing)
	s.cfg.Logger.Debug("Executing data batches",
		zap.String("node", s.cfg.Node),
		zap.Int("batches", len(batches)),
		zap.String("mode", string(s.Mode())))

	if s.UseParallel() {
		err = runParallel(ctx, s, batches, fn)
	} else {
		err = runSequential(ctx, s, batches, fn)
	}

	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Tasks rejected at submission or callbacks interrupted by cancellation.
		s.set(Cancelled)
	case err != nil:
		s.set(Failed)
		return err
	case s.Executed() < len(batches):
		s.set(Cancelled)
	default:
		s.set(Completed)
	}
	return nil
}

func runSequential[T any](ctx context.Context, s *Scheduler, batches []T, fn func(context.Context, T) error) error {
	for i, b := range batches {
		if ctx.Err() != nil {
			return nil
		}
		s.cfg.Progress.Report(ctx, progress.Rows(s.cfg.Node, i, len(batches)))
		if err := fn(ctx, b); err != nil {
			return s.failure(i, b, err)
		}
		s.executed.Add(1)
	}
	return nil
}

func runParallel[T any](ctx context.Context, s *Scheduler, batches []T, fn func(context.Context, T) error) error {
	size := s.cfg.BatchSize
	s.cfg.Progress.Report(ctx, progress.Event{
		Node: s.cfg.Node,
		Kind: progress.Info,
		Message: fmt.Sprintf("Running %d batches (batch size %d) in parallel. Available threads = %d",
			len(batches), size, s.cfg.Pool.MaxThreads()),
	})

	group := s.cfg.Pool.Group(ctx)
	for start := 0; start < len(batches); start += size {
		end := min(start+size, len(batches))
		group.Go(func(ctx context.Context) error {
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return nil
				}
				if err := fn(ctx, batches[i]); err != nil {
					return s.failure(i, batches[i], err)
				}
				s.executed.Add(1)
			}
			return nil
		})
	}

	return group.Wait()
}

// failure wraps a callback error with the batch position and, for data
// batches, the batch key.
func (s *Scheduler) failure(i int, b any, err error) error {
	e := &slotErrors.ExecutionError{Node: s.cfg.Node, BatchIndex: i, Cause: err}
	if keyed, ok := b.(interface{ Key() batch.Key }); ok {
		e.Key = keyed.Key().String()
	}
	return e
}
