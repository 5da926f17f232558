// Package storage persists the rows of data slots and the outcome of node runs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wehubfusion/slotflow/pkg/slot"
)

// ErrNotFound is returned when no rows were saved for a slot reference.
var ErrNotFound = errors.New("not found")

// Node run statuses recorded by the pipeline runner.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// SlotRef addresses the rows one slot produced in one run.
type SlotRef struct {
	RunID string `json:"run_id"`
	Node  string `json:"node"`
	Slot  string `json:"slot"`
}

// Path returns the object path used by blob-backed stores.
func (r SlotRef) Path() string {
	return fmt.Sprintf("runs/%s/slots/%s/%s.json", r.RunID, r.Node, r.Slot)
}

func (r SlotRef) String() string {
	return r.RunID + "/" + r.Node + "/" + r.Slot
}

// NodeRecord is the outcome of one node in a run.
type NodeRecord struct {
	Node            string    `json:"node"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Batches         int       `json:"batches"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// RowStore saves serialized slot rows and node records. A saved slot without
// rows loads as an empty, non-nil slice; loading a slot that was never saved
// returns ErrNotFound.
// Implementations must be safe for concurrent use.
type RowStore interface {
	SaveSlot(ctx context.Context, ref SlotRef, rows []slot.SerializedRow) error
	LoadSlot(ctx context.Context, ref SlotRef) ([]slot.SerializedRow, error)
	RecordNode(ctx context.Context, runID string, rec NodeRecord) error
	NodeRecords(ctx context.Context, runID string) ([]NodeRecord, error)
	Close() error
}
