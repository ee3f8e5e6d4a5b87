package oru

import (
	"context"
	"database/sql"
	"strings"

	log "github.com/sirupsen/logrus"
)

// FieldName is the closed set of task fields an update op may target.
type FieldName string

const (
	FieldTitle    FieldName = "title"
	FieldStatus   FieldName = "status"
	FieldPriority FieldName = "priority"
	FieldLabels   FieldName = "labels"
	FieldNotes    FieldName = "notes"
	FieldDueAt    FieldName = "due_at"
	FieldMetadata FieldName = "metadata"
)

// execQueryer is satisfied by *sql.Tx (and *sql.DB), the minimal surface
// Replay needs to read and write the tasks table within a caller-owned
// transaction.
type execQueryer interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Replayer folds oplog entries into the materialized tasks table. It is
// idempotent: replaying an already-applied entry, or the same entries
// twice, yields no change beyond the first application.
type Replayer struct {
	stats *Stats
}

// NewReplayer returns a Replayer that records its activity on stats (which
// may be nil).
func NewReplayer(stats *Stats) *Replayer {
	return &Replayer{stats: stats}
}

func (r *Replayer) incReplayed() {
	if r.stats != nil {
		r.stats.OpsReplayed.Add(1)
	}
}

func (r *Replayer) incSkipped() {
	if r.stats != nil {
		r.stats.ReplaySkipped.Add(1)
	}
}

// Replay applies each entry in entries, in the order given, to the tasks
// table within exec. Callers are responsible for passing entries already
// sorted by (timestamp, id) when order matters (see §4.3/§4.7); Replay
// itself applies in the slice order it is handed.
func (r *Replayer) Replay(ctx context.Context, exec execQueryer, entries []OplogEntry) error {
	for _, e := range entries {
		if err := r.applyOne(ctx, exec, e); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild truncates the tasks table and replays the full oplog (already
// sorted by (timestamp, id)) from scratch. It must produce a tasks table
// identical to incremental replay of the same entries.
func (r *Replayer) Rebuild(ctx context.Context, exec execQueryer, entries []OplogEntry) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return newStorageError("rebuild: truncate tasks", err)
	}
	return r.Replay(ctx, exec, entries)
}

func (r *Replayer) applyOne(ctx context.Context, exec execQueryer, e OplogEntry) error {
	switch e.OpType {
	case OpCreate:
		return r.applyCreate(ctx, exec, e)
	case OpUpdate:
		return r.applyUpdate(ctx, exec, e)
	case OpDelete:
		return r.applyDelete(ctx, exec, e)
	default:
		log.WithField("op_id", e.ID).Warn("ORU replay: unknown op type, skipping")
		r.incSkipped()
		return nil
	}
}

func (r *Replayer) applyCreate(ctx context.Context, exec execQueryer, e OplogEntry) error {
	var exists int
	err := exec.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, e.TaskID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return newStorageError("replay create: lookup", err)
	}
	if err == nil {
		// Row already exists: create is a no-op, ensuring idempotence under
		// replay of already-applied logs and duplicate delivery.
		r.incReplayed()
		return nil
	}

	if e.Value == nil {
		log.WithField("op_id", e.ID).Warn("ORU replay: create with no payload, skipping")
		r.incSkipped()
		return nil
	}
	payload, err := decodeCreatePayload(*e.Value)
	if err != nil {
		log.WithFields(log.Fields{"op_id": e.ID, "task_id": e.TaskID}).Warnf("ORU replay: undecodable create payload: %s", err)
		r.incSkipped()
		return nil
	}

	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = "(untitled)"
	}
	status := payload.Status
	if !status.valid() {
		status = StatusTodo
	}
	priority := payload.Priority
	if !priority.valid() {
		priority = PriorityMedium
	}
	labelsJSON, err := encodeLabels(payload.Labels)
	if err != nil {
		return newStorageError("replay create: encode labels", err)
	}
	notesJSON, err := encodeNotes(payload.Notes)
	if err != nil {
		return newStorageError("replay create: encode notes", err)
	}
	metadataJSON, err := encodeMetadata(payload.Metadata)
	if err != nil {
		return newStorageError("replay create: encode metadata", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO tasks(id, title, status, priority, labels, notes, metadata, due_at, created_at, updated_at, deleted_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO NOTHING
	`, e.TaskID, title, string(status), string(priority), labelsJSON, notesJSON, metadataJSON, payload.DueAt, e.Timestamp, e.Timestamp)
	if err != nil {
		return newStorageError("replay create: insert", err)
	}
	r.incReplayed()
	return nil
}

func (r *Replayer) applyUpdate(ctx context.Context, exec execQueryer, e OplogEntry) error {
	var updatedAt int64
	err := exec.QueryRowContext(ctx, `SELECT updated_at FROM tasks WHERE id = ?`, e.TaskID).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		// The create for this task hasn't been applied yet; a correctly
		// sorted replay never hits this for entries it controls, but
		// out-of-order ingest can. Drop it; the eventual full/per-task
		// rebuild after create lands will pick it back up.
		r.incSkipped()
		return nil
	}
	if err != nil {
		return newStorageError("replay update: lookup", err)
	}
	if e.Timestamp < updatedAt {
		// Last-writer-wins: a strictly older write loses.
		r.incSkipped()
		return nil
	}

	if e.Field == nil {
		log.WithField("op_id", e.ID).Warn("ORU replay: update with no field, skipping")
		r.incSkipped()
		return nil
	}

	if err := r.writeField(ctx, exec, e); err != nil {
		if _, ok := err.(*ReplayInconsistencyError); ok {
			log.WithFields(log.Fields{"op_id": e.ID, "task_id": e.TaskID}).Warn(err.Error())
			r.incSkipped()
			return nil
		}
		return err
	}

	_, err = exec.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, e.Timestamp, e.TaskID)
	if err != nil {
		return newStorageError("replay update: touch updated_at", err)
	}
	r.incReplayed()
	return nil
}

func (r *Replayer) writeField(ctx context.Context, exec execQueryer, e OplogEntry) error {
	field := FieldName(*e.Field)
	value := ""
	if e.Value != nil {
		value = *e.Value
	}

	switch field {
	case FieldTitle:
		title := strings.TrimSpace(value)
		if title == "" {
			return newReplayInconsistencyError(e.ID, "title update decoded to empty string")
		}
		_, err := exec.ExecContext(ctx, `UPDATE tasks SET title = ? WHERE id = ?`, title, e.TaskID)
		return wrapStorage(err, "write title")

	case FieldStatus:
		st := Status(value)
		if !st.valid() {
			return newReplayInconsistencyError(e.ID, "invalid status value: "+value)
		}
		_, err := exec.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(st), e.TaskID)
		return wrapStorage(err, "write status")

	case FieldPriority:
		p := Priority(value)
		if !p.valid() {
			return newReplayInconsistencyError(e.ID, "invalid priority value: "+value)
		}
		_, err := exec.ExecContext(ctx, `UPDATE tasks SET priority = ? WHERE id = ?`, string(p), e.TaskID)
		return wrapStorage(err, "write priority")

	case FieldLabels:
		labels, err := decodeLabels(value)
		if err != nil {
			return newReplayInconsistencyError(e.ID, "undecodable labels: "+err.Error())
		}
		encoded, err := encodeLabels(labels)
		if err != nil {
			return wrapStorage(err, "encode labels")
		}
		_, err = exec.ExecContext(ctx, `UPDATE tasks SET labels = ? WHERE id = ?`, encoded, e.TaskID)
		return wrapStorage(err, "write labels")

	case FieldNotes:
		return r.writeNotes(ctx, exec, e, value)

	case FieldDueAt:
		if e.Value == nil {
			_, err := exec.ExecContext(ctx, `UPDATE tasks SET due_at = NULL WHERE id = ?`, e.TaskID)
			return wrapStorage(err, "clear due_at")
		}
		_, err := exec.ExecContext(ctx, `UPDATE tasks SET due_at = ? WHERE id = ?`, value, e.TaskID)
		return wrapStorage(err, "write due_at")

	case FieldMetadata:
		md, err := decodeMetadata(value)
		if err != nil {
			return newReplayInconsistencyError(e.ID, "undecodable metadata: "+err.Error())
		}
		encoded, err := encodeMetadata(md)
		if err != nil {
			return wrapStorage(err, "encode metadata")
		}
		_, err = exec.ExecContext(ctx, `UPDATE tasks SET metadata = ? WHERE id = ?`, encoded, e.TaskID)
		return wrapStorage(err, "write metadata")

	default:
		return newReplayInconsistencyError(e.ID, "unknown field: "+string(field))
	}
}

// writeNotes implements the append rule: a JSON array value replaces the
// notes sequence wholesale; a scalar string value is appended as a single
// new note. This is the one reference rule the spec fixes explicitly.
func (r *Replayer) writeNotes(ctx context.Context, exec execQueryer, e OplogEntry, value string) error {
	if looksLikeJSONArray(value) {
		notes, err := decodeNotes(value)
		if err != nil {
			return newReplayInconsistencyError(e.ID, "undecodable notes array: "+err.Error())
		}
		encoded, err := encodeNotes(notes)
		if err != nil {
			return wrapStorage(err, "encode notes")
		}
		_, err = exec.ExecContext(ctx, `UPDATE tasks SET notes = ? WHERE id = ?`, encoded, e.TaskID)
		return wrapStorage(err, "write notes")
	}

	var current string
	if err := exec.QueryRowContext(ctx, `SELECT notes FROM tasks WHERE id = ?`, e.TaskID).Scan(&current); err != nil {
		return wrapStorage(err, "read current notes")
	}
	notes, err := decodeNotes(current)
	if err != nil {
		notes = nil
	}
	notes = append(notes, value)
	encoded, err := encodeNotes(notes)
	if err != nil {
		return wrapStorage(err, "encode appended notes")
	}
	_, err = exec.ExecContext(ctx, `UPDATE tasks SET notes = ? WHERE id = ?`, encoded, e.TaskID)
	return wrapStorage(err, "write appended notes")
}

func (r *Replayer) applyDelete(ctx context.Context, exec execQueryer, e OplogEntry) error {
	res, err := exec.ExecContext(ctx, `
		UPDATE tasks SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, e.Timestamp, e.Timestamp, e.TaskID)
	if err != nil {
		return newStorageError("replay delete", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		// Create hasn't landed yet; nothing to tombstone. Drop, same as an
		// out-of-order update.
		r.incSkipped()
		return nil
	}
	r.incReplayed()
	return nil
}

func wrapStorage(err error, op string) error {
	if err == nil {
		return nil
	}
	return newStorageError(op, err)
}

func looksLikeJSONArray(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		return r == '['
	}
	return false
}
