package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject prefix events are published under.
const DefaultSubjectPrefix = "slotflow.progress"

// Publisher is the subset of *nats.Conn used by NATSReporter.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSReporter publishes events as JSON on <prefix>.<runID>.<kind>.
// Publishing failures are logged and never interrupt a run.
type NATSReporter struct {
	publisher Publisher
	prefix    string
	logger    *zap.Logger
}

// NewNATSReporter creates a reporter publishing through conn.
func NewNATSReporter(conn Publisher, prefix string, logger *zap.Logger) (*NATSReporter, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSReporter{publisher: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event is published on.
func (r *NATSReporter) Subject(e Event) string {
	run := e.RunID
	if run == "" {
		run = "_"
	}
	return strings.Join([]string{r.prefix, run, string(e.Kind)}, ".")
}

// Report implements Reporter.
func (r *NATSReporter) Report(_ context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("Failed to encode progress event", zap.Error(err))
		return
	}
	if err := r.publisher.Publish(r.Subject(e), payload); err != nil {
		r.logger.Warn("Failed to publish progress event",
			zap.String("subject", r.Subject(e)),
			zap.Error(err))
	}
}
