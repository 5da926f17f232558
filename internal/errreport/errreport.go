// Package errreport sends node failures to Sentry.
package errreport

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/slotflow/pkg/storage"
)

// Config configures the Sentry client. An empty DSN disables reporting.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Reporter captures errors on its own Sentry hub. A disabled reporter
// accepts every call and does nothing.
type Reporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// New creates a reporter.
func New(cfg Config, logger *zap.Logger) (*Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return &Reporter{logger: logger}, nil
	}
	return newWithOptions(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		AttachStacktrace: true,
	}, logger)
}

func newWithOptions(opts sentry.ClientOptions, logger *zap.Logger) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	logger.Info("Error reporting enabled", zap.String("environment", opts.Environment))
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope()), logger: logger}, nil
}

// Enabled reports whether events are sent.
func (r *Reporter) Enabled() bool { return r.hub != nil }

// CaptureError sends err with the given tags.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if r.hub == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// CaptureNodeFailure sends the failure of one node of a run.
func (r *Reporter) CaptureNodeFailure(pipelineName, runID string, rec storage.NodeRecord) {
	if r.hub == nil || rec.Status != storage.StatusFailed {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(map[string]string{
			"pipeline":  pipelineName,
			"run_id":    runID,
			"node":      rec.Node,
			"node_type": rec.Type,
		})
		scope.SetContext("node", sentry.Context{
			"batches":           rec.Batches,
			"execution_time_ms": rec.ExecutionTimeMs,
		})
		scope.SetFingerprint([]string{rec.Type, rec.Error})
		r.hub.CaptureException(errors.New(rec.Error))
	})
	r.logger.Debug("Reported node failure", zap.String("node", rec.Node), zap.String("run_id", runID))
}

// Flush waits up to timeout for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if r.hub == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
