package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/concurrency"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/progress"
	"github.com/wehubfusion/slotflow/pkg/scheduler"
	"github.com/wehubfusion/slotflow/pkg/storage"
)

// TracerName is the instrumentation name of pipeline spans.
const TracerName = "slotflow/pipeline"

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// reportTimeout bounds storing a node record after its run.
const reportTimeout = 5 * time.Second

// Options configures a Runner. Only the pipeline is required.
type Options struct {
	// RunID identifies the run; a random UUID is used when empty.
	RunID string
	// Pool runs the batches of parallelizable nodes. Nil runs every node
	// sequentially.
	Pool *concurrency.Pool
	// Parallelization is the run-wide switch for parallel batch execution.
	Parallelization bool
	// MaxConcurrentNodes bounds how many nodes of one level run at once.
	MaxConcurrentNodes int
	// Store persists node records and output rows. Optional.
	Store    storage.RowStore
	Progress progress.Reporter
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

// RunResult summarizes a run. Nodes are listed in finishing order, nodes
// that never started last.
type RunResult struct {
	RunID    string
	Status   string
	Nodes    []storage.NodeRecord
	Duration time.Duration
}

// Node returns the record of a node.
func (r *RunResult) Node(id string) (storage.NodeRecord, bool) {
	for _, rec := range r.Nodes {
		if rec.Node == id {
			return rec, true
		}
	}
	return storage.NodeRecord{}, false
}

// Runner executes a pipeline.
type Runner struct {
	pipeline *Pipeline
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewRunner creates a runner for p.
func NewRunner(p *Pipeline, opts Options) (*Runner, error) {
	if p == nil {
		return nil, errors.New("pipeline cannot be nil")
	}
	if opts.MaxConcurrentNodes <= 0 {
		opts.MaxConcurrentNodes = concurrency.DefaultConfig().MaxConcurrentNodes
	}
	if opts.Progress == nil {
		opts.Progress = progress.Nop
	}
	r := &Runner{pipeline: p, opts: opts, logger: opts.Logger, tracer: opts.Tracer}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(TracerName)
	}
	return r, nil
}

// Run executes every node once, level by level. Nodes of one level run
// concurrently. The first node failure cancels the run; rows already
// written stay in place. The result is returned even when err is not nil.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	start := time.Now()
	result := &RunResult{RunID: runID}
	reporter := progress.WithRun(r.opts.Progress, runID)
	logger := r.logger.With(zap.String("run_id", runID), zap.String("pipeline", r.pipeline.Name))

	ctx, span := r.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.name", r.pipeline.Name),
			attribute.String("run.id", runID),
		))
	defer span.End()

	levels, err := r.pipeline.Graph.TopologicalLevels()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Status = StatusFailed
		return result, err
	}

	logger.Info("Starting pipeline run", zap.Int("levels", len(levels)), zap.Int("nodes", len(r.pipeline.order)))
	reporter.Report(ctx, progress.Event{Kind: progress.RunStarted, Message: r.pipeline.Name, Total: len(r.pipeline.order)})

	records := make(chan storage.NodeRecord, len(r.pipeline.order))
	limiter := concurrency.NewLimiter(r.opts.MaxConcurrentNodes)
	var runErr error
	for i, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, n := range level {
			g.Go(func() error {
				return limiter.GoSync(gctx, func() error {
					rec, err := r.runNode(gctx, runID, n, reporter, logger)
					records <- rec
					return err
				})
			})
		}
		if err := g.Wait(); err != nil {
			runErr = err
			logger.Debug("Stopping run", zap.Int("level", i), zap.Error(err))
			break
		}
	}
	close(records)
	lm := limiter.GetMetrics()
	logger.Debug("Node limiter",
		zap.Int64("peak_concurrent", lm.PeakConcurrent),
		zap.Duration("avg_wait", limiter.GetAverageWaitTime()))

	seen := make(map[string]struct{})
	for rec := range records {
		result.Nodes = append(result.Nodes, rec)
		seen[rec.Node] = struct{}{}
	}
	for _, id := range r.pipeline.order {
		if _, ok := seen[id]; ok {
			continue
		}
		n, _ := r.pipeline.Graph.Node(id)
		rec := storage.NodeRecord{Node: id, Type: n.TypeID(), Status: storage.StatusSkipped, FinishedAt: time.Now().UTC()}
		r.record(runID, rec, logger)
		result.Nodes = append(result.Nodes, rec)
	}

	result.Duration = time.Since(start)
	switch {
	case runErr == nil:
		result.Status = StatusCompleted
	case ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		result.Status = StatusCancelled
	default:
		result.Status = StatusFailed
	}

	span.SetAttributes(
		attribute.String("run.status", result.Status),
		attribute.Int64("processing.duration_ms", result.Duration.Milliseconds()),
	)
	finished := progress.Event{Kind: progress.RunFinished, Message: result.Status}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		finished.Error = runErr.Error()
		logger.Error("Pipeline run did not complete",
			zap.String("status", result.Status),
			zap.Duration("duration", result.Duration),
			zap.Error(runErr))
	} else {
		span.SetStatus(codes.Ok, "pipeline completed")
		logger.Info("Pipeline run completed", zap.Duration("duration", result.Duration))
	}
	// The run context may be cancelled already; the final event must still go out.
	reporter.Report(context.WithoutCancel(ctx), finished)
	return result, runErr
}

// runNode copies upstream rows into the inputs of n, runs its algorithm and
// persists the outcome. A cancelled node returns the context error.
func (r *Runner) runNode(ctx context.Context, runID string, n *node.Node, reporter progress.Reporter, logger *zap.Logger) (storage.NodeRecord, error) {
	runnable, _ := r.pipeline.Runnable(n.ID())
	logger = logger.With(zap.String("node", n.Name()), zap.String("node_id", n.ID()))

	ctx, span := r.tracer.Start(ctx, "pipeline.Node",
		trace.WithAttributes(
			attribute.String("node.id", n.ID()),
			attribute.String("node.type", n.TypeID()),
		))
	defer span.End()

	r.prepareInputs(n)
	logger.Info("Running node")
	reporter.Report(ctx, progress.Event{Node: n.Name(), Kind: progress.NodeStarted})

	cfg := algorithm.DefaultRunConfig().
		WithParallelization(r.opts.Parallelization).
		WithPool(r.opts.Pool).
		WithLogger(logger).
		WithTracer(r.tracer).
		WithProgress(reporter)

	start := time.Now()
	err := runnable.RunBatches(ctx, cfg)
	elapsed := time.Since(start)

	rec := storage.NodeRecord{
		Node:            n.ID(),
		Type:            n.TypeID(),
		ExecutionTimeMs: elapsed.Milliseconds(),
		Batches:         runnable.Executed(),
	}
	switch {
	case err != nil:
		rec.Status = storage.StatusFailed
		rec.Error = err.Error()
	case runnable.State() == scheduler.Completed:
		rec.Status = storage.StatusCompleted
	default:
		rec.Status = storage.StatusCancelled
	}

	if rec.Status == storage.StatusCompleted && r.opts.Store != nil {
		if saveErr := r.saveOutputs(ctx, runID, n); saveErr != nil {
			rec.Status = storage.StatusFailed
			rec.Error = saveErr.Error()
			err = saveErr
		}
	}
	rec.FinishedAt = time.Now().UTC()
	r.record(runID, rec, logger)

	span.SetAttributes(
		attribute.String("node.status", rec.Status),
		attribute.Int("batch.executed", rec.Batches),
	)
	switch rec.Status {
	case storage.StatusFailed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Node failed", zap.Duration("duration", elapsed), zap.Error(err))
		reporter.Report(ctx, progress.Event{Node: n.Name(), Kind: progress.NodeFailed, Error: err.Error()})
		return rec, err
	case storage.StatusCancelled:
		logger.Info("Node cancelled", zap.Int("batches", rec.Batches))
		reporter.Report(context.WithoutCancel(ctx), progress.Event{Node: n.Name(), Kind: progress.NodeCancelled})
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		return rec, context.Canceled
	}

	span.SetStatus(codes.Ok, "node completed")
	logger.Info("Node completed", zap.Duration("duration", elapsed), zap.Int("batches", rec.Batches))
	reporter.Report(ctx, progress.Event{Node: n.Name(), Kind: progress.NodeFinished, Current: rec.Batches, Total: rec.Batches})
	return rec, nil
}

// prepareInputs replaces the rows of every connected input slot with the
// rows of its source and clears the outputs of n.
func (r *Runner) prepareInputs(n *node.Node) {
	for _, in := range n.InputSlots() {
		src := r.pipeline.Graph.SourceOutputSlot(in)
		if src == nil {
			continue
		}
		in.Clear()
		in.CopyFrom(src)
	}
	for _, out := range n.OutputSlots() {
		out.Clear()
	}
}

func (r *Runner) saveOutputs(ctx context.Context, runID string, n *node.Node) error {
	for _, out := range n.OutputSlots() {
		ref := storage.SlotRef{RunID: runID, Node: n.ID(), Slot: out.Name()}
		if err := r.opts.Store.SaveSlot(ctx, ref, out.Serialize()); err != nil {
			return fmt.Errorf("failed to store %s: %w", ref, err)
		}
	}
	return nil
}

// record stores a node record. Storing uses its own timeout so records of
// cancelled nodes are still written.
func (r *Runner) record(runID string, rec storage.NodeRecord, logger *zap.Logger) {
	if r.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := r.opts.Store.RecordNode(ctx, runID, rec); err != nil {
		logger.Error("Error recording node result", zap.String("node_id", rec.Node), zap.Error(err))
	}
}
