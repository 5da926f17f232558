// Package progress carries run progress from schedulers and the pipeline
// runner to logs and message subscribers.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	RunStarted    Kind = "run.started"
	RunFinished   Kind = "run.finished"
	NodeStarted   Kind = "node.started"
	NodeFinished  Kind = "node.finished"
	NodeFailed    Kind = "node.failed"
	NodeCancelled Kind = "node.cancelled"
	BatchProgress Kind = "batch.progress"
	Info          Kind = "info"
)

// Event is a single progress notification.
type Event struct {
	RunID   string    `json:"runId,omitempty"`
	Node    string    `json:"node,omitempty"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Rows builds the sub-status of processing row i (zero based) of n.
func Rows(node string, i, n int) Event {
	return Event{
		Node:    node,
		Kind:    BatchProgress,
		Message: fmt.Sprintf("Data row %d / %d", i+1, n),
		Current: i + 1,
		Total:   n,
	}
}

// Reporter receives progress events. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(ctx context.Context, e Event)
}

// Func adapts a function to the Reporter interface.
type Func func(ctx context.Context, e Event)

// Report calls f.
func (f Func) Report(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards events.
var Nop Reporter = Func(func(context.Context, Event) {})

// Multi fans an event out to several reporters.
type Multi []Reporter

// Report forwards e to every reporter.
func (m Multi) Report(ctx context.Context, e Event) {
	for _, r := range m {
		r.Report(ctx, e)
	}
}

// WithRun returns a reporter that stamps events with a run ID and time.
func WithRun(r Reporter, runID string) Reporter {
	return Func(func(ctx context.Context, e Event) {
		if e.RunID == "" {
			e.RunID = runID
		}
		if e.Time.IsZero() {
			e.Time = time.Now().UTC()
		}
		r.Report(ctx, e)
	})
}

// LogReporter writes events to a zap logger. Batch progress is logged at
// debug level, failures at error level and everything else at info.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter logging to logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (r *LogReporter) Report(_ context.Context, e Event) {
	fields := []zap.Field{zap.String("kind", string(e.Kind))}
	if e.RunID != "" {
		fields = append(fields, zap.String("runID", e.RunID))
	}
	if e.Node != "" {
		fields = append(fields, zap.String("node", e.Node))
	}
	if e.Total > 0 {
		fields = append(fields, zap.Int("current", e.Current), zap.Int("total", e.Total))
	}
	switch e.Kind {
	case BatchProgress:
		r.logger.Debug(e.Message, fields...)
	case NodeFailed:
		r.logger.Error(e.Message, append(fields, zap.String("error", e.Error))...)
	default:
		r.logger.Info(e.Message, fields...)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report implements Reporter.
func (r *Recorder) Report(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of the given kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	var result []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			result = append(result, e)
		}
	}
	return result
}
