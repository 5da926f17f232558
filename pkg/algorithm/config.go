package algorithm

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/slotflow/pkg/concurrency"
	"github.com/wehubfusion/slotflow/pkg/progress"
)

// TracerName is the instrumentation name of algorithm spans.
const TracerName = "slotflow/algorithm"

// RunConfig configures a single node run.
type RunConfig struct {
	// ParallelizationEnabled allows nodes that support it to run their
	// batches on Pool.
	ParallelizationEnabled bool

	// Pool is the worker pool shared by the run (nil for sequential only)
	Pool *concurrency.Pool

	// Logger for structured logging (nil for no logging)
	Logger *zap.Logger

	// Tracer creates the node spans (nil for the global tracer provider)
	Tracer trace.Tracer

	// Progress receives batch progress (nil to discard)
	Progress progress.Reporter
}

// DefaultRunConfig returns a configuration that allows parallelization but
// has no pool, so batches run sequentially until one is set.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ParallelizationEnabled: true,
	}
}

// Validate applies defaults to unset fields.
func (c *RunConfig) Validate() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(TracerName)
	}
	if c.Progress == nil {
		c.Progress = progress.Nop
	}
}

// WithParallelization sets whether parallel batch execution is allowed.
func (c RunConfig) WithParallelization(enabled bool) RunConfig {
	c.ParallelizationEnabled = enabled
	return c
}

// WithPool sets the worker pool.
func (c RunConfig) WithPool(pool *concurrency.Pool) RunConfig {
	c.Pool = pool
	return c
}

// WithLogger sets the logger.
func (c RunConfig) WithLogger(logger *zap.Logger) RunConfig {
	c.Logger = logger
	return c
}

// WithTracer sets the tracer.
func (c RunConfig) WithTracer(tracer trace.Tracer) RunConfig {
	c.Tracer = tracer
	return c
}

// WithProgress sets the progress reporter.
func (c RunConfig) WithProgress(r progress.Reporter) RunConfig {
	c.Progress = r
	return c
}
