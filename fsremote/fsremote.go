// Package fsremote is the reference RemoteBackend: a second local SQLite
// database with a monotone seq-keyed oplog table. It exists for tests and
// for shared-disk sync (two replicas pointed at the same file over a
// network share or a synced folder).
package fsremote

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/tchayen/oru"
)

// Remote is a RemoteBackend backed by its own SQLite file, independent of
// any TaskService's store.
type Remote struct {
	db *sql.DB
}

// Open creates the parent directory if needed and opens (creating if
// absent) the oplog table at path.
func Open(ctx context.Context, path string) (*Remote, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("fsremote: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("fsremote: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS oplog (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			op_type TEXT NOT NULL,
			field TEXT,
			value TEXT,
			timestamp INTEGER NOT NULL
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("fsremote: init schema: %w", err)
		}
	}

	return &Remote{db: db}, nil
}

// Close closes the underlying database handle.
func (r *Remote) Close() error { return r.db.Close() }

// Push is an INSERT OR IGNORE by id: entries already present are silently
// dropped, giving idempotent at-least-once ingest.
func (r *Remote) Push(ctx context.Context, entries []oru.OplogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fsremote: push begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO oplog(id, task_id, device_id, op_type, field, value, timestamp)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, e.ID, e.TaskID, e.DeviceID, string(e.OpType), e.Field, e.Value, e.Timestamp)
		if err != nil {
			return fmt.Errorf("fsremote: push insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("fsremote: push commit: %w", err)
	}
	return nil
}

// Pull parses cursor as a seq (empty cursor == 0, meaning "from the
// beginning"), selects rows with seq > cursor ordered by seq, and returns
// the max seq seen as the new cursor. With no new rows the input cursor is
// returned unchanged (an empty cursor stays empty).
func (r *Remote) Pull(ctx context.Context, cursor string) ([]oru.OplogEntry, string, error) {
	after := int64(0)
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, cursor, fmt.Errorf("fsremote: invalid cursor %q: %w", cursor, err)
		}
		after = v
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, task_id, device_id, op_type, field, value, timestamp
		FROM oplog WHERE seq > ? ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, cursor, fmt.Errorf("fsremote: pull query: %w", err)
	}
	defer rows.Close()

	var (
		entries []oru.OplogEntry
		maxSeq  = after
	)
	for rows.Next() {
		var (
			seq    int64
			e      oru.OplogEntry
			opType string
		)
		if err := rows.Scan(&seq, &e.ID, &e.TaskID, &e.DeviceID, &opType, &e.Field, &e.Value, &e.Timestamp); err != nil {
			return nil, cursor, fmt.Errorf("fsremote: pull scan: %w", err)
		}
		e.OpType = oru.OpType(opType)
		entries = append(entries, e)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, fmt.Errorf("fsremote: pull iterate: %w", err)
	}

	if len(entries) == 0 {
		return nil, cursor, nil
	}
	return entries, strconv.FormatInt(maxSeq, 10), nil
}
