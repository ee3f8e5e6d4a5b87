package oru

import (
	"context"
	"database/sql"
	"time"
)

// OpType is the closed set of oplog operation kinds.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

func (t OpType) valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// OplogEntry is a single immutable row of the journal. Entries are never
// modified or removed once appended; (id) is globally unique and an insert
// collision is treated as an idempotent no-op.
type OplogEntry struct {
	ID        string
	TaskID    string
	DeviceID  string
	OpType    OpType
	Field     *string
	Value     *string
	Timestamp int64 // Unix milliseconds, UTC (an integer, not an ISO-8601 string)
}

// nowMillis returns the current UTC time as Unix milliseconds, the
// timestamp unit used throughout the oplog and the materialized tasks
// table.
func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// pendingOp is the input to Writer.Append before an id/timestamp has been
// allocated.
type pendingOp struct {
	TaskID   string
	DeviceID string
	OpType   OpType
	Field    *string
	Value    *string
}

// Writer appends operations to the oplog. Append must run on the same
// transaction as the Replay call that materializes it; Writer itself never
// begins or commits a transaction — callers (principally TaskService and
// SyncEngine) own transaction boundaries.
type Writer struct{}

// NewWriter returns a stateless Writer. It exists as a type mainly to mirror
// the teacher's one-struct-per-concern layout and to give Append/AppendMany
// a natural receiver for future state (e.g. metrics).
func NewWriter() *Writer { return &Writer{} }

// Append allocates an id (and timestamp, if ts is zero) and persists op
// atomically via exec. op.Field must be non-nil for OpUpdate and nil for
// OpCreate/OpDelete; violating this is a ConstraintError, not silently
// tolerated, since Replay trusts it.
func (w *Writer) Append(ctx context.Context, exec execer, op pendingOp, ts int64) (OplogEntry, error) {
	if !op.OpType.valid() {
		return OplogEntry{}, newConstraintError("op_type", "unknown operation type")
	}
	if op.OpType == OpUpdate && (op.Field == nil || *op.Field == "") {
		return OplogEntry{}, newConstraintError("field", "update requires a field")
	}
	if op.OpType != OpUpdate && op.Field != nil {
		return OplogEntry{}, newConstraintError("field", "field must be empty for create/delete")
	}

	id, err := NewID()
	if err != nil {
		return OplogEntry{}, err
	}
	if ts == 0 {
		ts = nowMillis()
	}

	entry := OplogEntry{
		ID:        id,
		TaskID:    op.TaskID,
		DeviceID:  op.DeviceID,
		OpType:    op.OpType,
		Field:     op.Field,
		Value:     op.Value,
		Timestamp: ts,
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO oplog(id, task_id, device_id, op_type, field, value, timestamp)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, entry.ID, entry.TaskID, entry.DeviceID, string(entry.OpType), entry.Field, entry.Value, entry.Timestamp)
	if err != nil {
		return OplogEntry{}, newStorageError("oplog append", err)
	}
	return entry, nil
}

// AppendMany ingests pre-built entries (as received from a sync pull) with
// at-least-once, idempotent semantics: a duplicate id is silently ignored.
func (w *Writer) AppendMany(ctx context.Context, exec execer, entries []OplogEntry) error {
	for _, e := range entries {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO oplog(id, task_id, device_id, op_type, field, value, timestamp)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, e.ID, e.TaskID, e.DeviceID, string(e.OpType), e.Field, e.Value, e.Timestamp)
		if err != nil {
			return newStorageError("oplog append many", err)
		}
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx for multi-row oplog reads.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Reader queries the oplog under its several natural orderings.
type Reader struct{}

// NewReader returns a stateless Reader.
func NewReader() *Reader { return &Reader{} }

const entryColumns = `id, task_id, device_id, op_type, field, value, timestamp`

func scanEntries(rows *sql.Rows) ([]OplogEntry, error) {
	defer rows.Close()
	var out []OplogEntry
	for rows.Next() {
		var e OplogEntry
		var opType string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.DeviceID, &opType, &e.Field, &e.Value, &e.Timestamp); err != nil {
			return nil, newStorageError("scan oplog entry", err)
		}
		e.OpType = OpType(opType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("iterate oplog entries", err)
	}
	return out, nil
}

// All returns every entry in (timestamp, id) order, the effective replay
// order for a full rebuild.
func (r *Reader) All(ctx context.Context, q queryer) ([]OplogEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+` FROM oplog ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, newStorageError("read all oplog entries", err)
	}
	return scanEntries(rows)
}

// ByTask returns the complete sorted history for a single task.
func (r *Reader) ByTask(ctx context.Context, q queryer, taskID string) ([]OplogEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM oplog
		WHERE task_id = ?
		ORDER BY timestamp ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, newStorageError("read task oplog entries", err)
	}
	return scanEntries(rows)
}

// ByDeviceSince returns this device's entries with id > afterID, in id
// order (UUIDv7 ids sort in generation order on a single device, so this
// substitutes for a monotone sequence counter).
func (r *Reader) ByDeviceSince(ctx context.Context, q queryer, deviceID, afterID string) ([]OplogEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM oplog
		WHERE device_id = ? AND id > ?
		ORDER BY id ASC
	`, deviceID, afterID)
	if err != nil {
		return nil, newStorageError("read device oplog entries", err)
	}
	return scanEntries(rows)
}
