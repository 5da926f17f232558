package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/slotflow/pkg/slot"
)

// ResultFile is the per-run document holding every node record, keyed by node.
type ResultFile map[string]NodeRecord

// ResultFilePath returns the standard blob path for a run's result file.
func ResultFilePath(runID string) string {
	return fmt.Sprintf("runs/%s/results.json", runID)
}

// BlobStore implements RowStore on top of a BlobClient. Each slot is one JSON
// document; node records share one result file per run.
type BlobStore struct {
	client BlobClient
	logger *zap.Logger
	mu     sync.Mutex // serializes read-modify-write of result files
}

// NewBlobStore creates a blob-backed row store.
func NewBlobStore(client BlobClient, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{client: client, logger: logger}, nil
}

// SaveSlot uploads the rows of a slot. An empty slot is stored as an empty
// JSON array.
func (s *BlobStore) SaveSlot(ctx context.Context, ref SlotRef, rows []slot.SerializedRow) error {
	if rows == nil {
		rows = []slot.SerializedRow{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal slot %s: %w", ref, err)
	}
	_, err = s.client.Upload(ctx, ref.Path(), data, map[string]string{
		"run_id": ref.RunID,
		"node":   ref.Node,
		"slot":   ref.Slot,
		"rows":   strconv.Itoa(len(rows)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload slot %s: %w", ref, err)
	}
	return nil
}

// LoadSlot downloads the rows of a slot.
func (s *BlobStore) LoadSlot(ctx context.Context, ref SlotRef) ([]slot.SerializedRow, error) {
	data, err := s.client.Download(ctx, ref.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to download slot %s: %w", ref, err)
	}
	rows := []slot.SerializedRow{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse slot %s: %w", ref, err)
	}
	return rows, nil
}

// RecordNode adds or updates a node's record in the run's result file.
func (s *BlobStore) RecordNode(ctx context.Context, runID string, rec NodeRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blobPath := ResultFilePath(runID)
	results, err := s.resultFile(ctx, runID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("Result file doesn't exist yet, creating new", zap.String("blob_path", blobPath))
		results = make(ResultFile)
	case err != nil:
		return err
	}
	results[rec.Node] = rec

	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal result file: %w", err)
	}
	_, err = s.client.Upload(ctx, blobPath, data, map[string]string{
		"run_id":        runID,
		"last_node":     rec.Node,
		"node_count":    strconv.Itoa(len(results)),
		"last_modified": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to upload result file: %w", err)
	}

	s.logger.Debug("Recorded node result",
		zap.String("run_id", runID),
		zap.String("node", rec.Node),
		zap.String("status", rec.Status),
		zap.Int("total_nodes", len(results)))
	return nil
}

// NodeRecords returns the records of a run ordered by finish time.
func (s *BlobStore) NodeRecords(ctx context.Context, runID string) ([]NodeRecord, error) {
	results, err := s.resultFile(ctx, runID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	records := make([]NodeRecord, 0, len(results))
	for _, rec := range results {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].FinishedAt.Equal(records[j].FinishedAt) {
			return records[i].FinishedAt.Before(records[j].FinishedAt)
		}
		return records[i].Node < records[j].Node
	})
	return records, nil
}

func (s *BlobStore) resultFile(ctx context.Context, runID string) (ResultFile, error) {
	data, err := s.client.Download(ctx, ResultFilePath(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to download result file: %w", err)
	}
	var results ResultFile
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse result file: %w", err)
	}
	if results == nil {
		results = make(ResultFile)
	}
	return results, nil
}

// Close implements RowStore.
func (s *BlobStore) Close() error { return nil }

var _ RowStore = (*BlobStore)(nil)
