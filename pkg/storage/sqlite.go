package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wehubfusion/slotflow/pkg/slot"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS slots (
	run_id    TEXT NOT NULL,
	node      TEXT NOT NULL,
	slot      TEXT NOT NULL,
	row_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, node, slot)
);
CREATE TABLE IF NOT EXISTS slot_rows (
	run_id      TEXT NOT NULL,
	node        TEXT NOT NULL,
	slot        TEXT NOT NULL,
	row_index   INTEGER NOT NULL,
	data        TEXT NOT NULL,
	annotations TEXT NOT NULL,
	PRIMARY KEY (run_id, node, slot, row_index)
);
CREATE TABLE IF NOT EXISTS node_records (
	run_id      TEXT NOT NULL,
	node        TEXT NOT NULL,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	batches     INTEGER NOT NULL,
	error       TEXT,
	finished_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, node)
);
`

// SQLiteStore implements RowStore with SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens or creates a SQLite database at path and creates the
// schema. ":memory:" opens a private in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("Opened SQLite row store", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveSlot replaces the rows stored for ref.
func (s *SQLiteStore) SaveSlot(ctx context.Context, ref SlotRef, rows []slot.SerializedRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM slot_rows WHERE run_id = ? AND node = ? AND slot = ?",
		ref.RunID, ref.Node, ref.Slot); err != nil {
		return fmt.Errorf("clear slot %s: %w", ref, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO slots(run_id, node, slot, row_count) VALUES(?, ?, ?, ?)",
		ref.RunID, ref.Node, ref.Slot, len(rows)); err != nil {
		return fmt.Errorf("mark slot %s: %w", ref, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO slot_rows(run_id, node, slot, row_index, data, annotations) VALUES(?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := json.Marshal(row.Data)
		if err != nil {
			return fmt.Errorf("encode row %d of %s: %w", i, ref, err)
		}
		anns, err := json.Marshal(row.Annotations)
		if err != nil {
			return fmt.Errorf("encode annotations of row %d of %s: %w", i, ref, err)
		}
		if _, err := stmt.ExecContext(ctx, ref.RunID, ref.Node, ref.Slot, i, string(data), string(anns)); err != nil {
			return fmt.Errorf("insert row %d of %s: %w", i, ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slot %s: %w", ref, err)
	}
	s.logger.Debug("Saved slot rows", zap.String("slot", ref.String()), zap.Int("rows", len(rows)))
	return nil
}

// LoadSlot returns the rows stored for ref in row order.
func (s *SQLiteStore) LoadSlot(ctx context.Context, ref SlotRef) ([]slot.SerializedRow, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT row_count FROM slots WHERE run_id = ? AND node = ? AND slot = ?",
		ref.RunID, ref.Node, ref.Slot).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query slot %s: %w", ref, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT data, annotations FROM slot_rows WHERE run_id = ? AND node = ? AND slot = ? ORDER BY row_index",
		ref.RunID, ref.Node, ref.Slot)
	if err != nil {
		return nil, fmt.Errorf("query slot %s: %w", ref, err)
	}
	defer rows.Close()

	result := make([]slot.SerializedRow, 0, count)
	for rows.Next() {
		var data, anns string
		if err := rows.Scan(&data, &anns); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", ref, err)
		}
		var row slot.SerializedRow
		if err := json.Unmarshal([]byte(data), &row.Data); err != nil {
			return nil, fmt.Errorf("decode row of %s: %w", ref, err)
		}
		if err := json.Unmarshal([]byte(anns), &row.Annotations); err != nil {
			return nil, fmt.Errorf("decode annotations of %s: %w", ref, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RecordNode inserts or replaces the record of a node.
func (s *SQLiteStore) RecordNode(ctx context.Context, runID string, rec NodeRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO node_records
		(run_id, node, type, status, duration_ms, batches, error, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Node, rec.Type, rec.Status, rec.ExecutionTimeMs, rec.Batches, errText,
		rec.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record node %s: %w", rec.Node, err)
	}
	return nil
}

// NodeRecords returns the records of a run ordered by finish time.
func (s *SQLiteStore) NodeRecords(ctx context.Context, runID string) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node, type, status, duration_ms, batches, error, finished_at
		FROM node_records WHERE run_id = ? ORDER BY finished_at, node`, runID)
	if err != nil {
		return nil, fmt.Errorf("query node records: %w", err)
	}
	defer rows.Close()

	var result []NodeRecord
	for rows.Next() {
		var rec NodeRecord
		var errText sql.NullString
		var finished int64
		if err := rows.Scan(&rec.Node, &rec.Type, &rec.Status, &rec.ExecutionTimeMs, &rec.Batches, &errText, &finished); err != nil {
			return nil, fmt.Errorf("scan node record: %w", err)
		}
		if errText.Valid {
			rec.Error = errText.String
		}
		rec.FinishedAt = time.Unix(0, finished).UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ RowStore = (*SQLiteStore)(nil)
