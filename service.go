package oru

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TaskService is the sole entry point external collaborators (CLI, HTTP,
// MCP, mobile) should use to create, read, mutate, or query tasks. Every
// writing operation opens exactly one transaction covering both the
// Writer.Append and the Replay that materializes it; readers run outside
// transactions.
type TaskService struct {
	store    *Store
	device   *DeviceIdentity
	writer   *Writer
	reader   *Reader
	replayer *Replayer
	stats    *Stats
}

// NewTaskService wires a TaskService on top of an already-open Store.
func NewTaskService(store *Store, device *DeviceIdentity, stats *Stats) *TaskService {
	return &TaskService{
		store:    store,
		device:   device,
		writer:   NewWriter(),
		reader:   NewReader(),
		replayer: NewReplayer(stats),
		stats:    stats,
	}
}

func (s *TaskService) incAppended(n int) {
	if s.stats != nil {
		s.stats.OpsAppended.Add(int64(n))
	}
}

// CreateInput carries the optional fields accepted by Create.
type CreateInput struct {
	Title    string
	Status   Status
	Priority Priority
	Labels   []string
	Notes    []string
	Metadata map[string]string
	DueAt    *string
}

// Create generates a new task id, appends a single create op carrying a
// JSON blob of every provided field, and returns the materialized Task.
func (s *TaskService) Create(ctx context.Context, in CreateInput) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, newConstraintError("title", "must not be empty")
	}

	taskID, err := NewID()
	if err != nil {
		return Task{}, err
	}
	deviceID, err := s.device.GetDeviceID(ctx)
	if err != nil {
		return Task{}, err
	}

	payload := createPayload{
		Title:    title,
		Status:   in.Status,
		Priority: in.Priority,
		Labels:   in.Labels,
		Notes:    in.Notes,
		Metadata: in.Metadata,
		DueAt:    in.DueAt,
	}
	value, err := encodeCreatePayload(payload)
	if err != nil {
		return Task{}, err
	}

	var result Task
	err = s.withTxn(ctx, func(tx *sql.Tx) error {
		entry, err := s.writer.Append(ctx, tx, pendingOp{
			TaskID:   taskID,
			DeviceID: deviceID,
			OpType:   OpCreate,
			Value:    &value,
		}, 0)
		if err != nil {
			return err
		}
		if err := s.replayer.Replay(ctx, tx, []OplogEntry{entry}); err != nil {
			return err
		}
		result, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.incAppended(1)
	return result, nil
}

// Partial carries the fields an Update call wants to change. A nil pointer
// means "leave unchanged"; DueAt additionally distinguishes "clear" (a
// pointer to an empty/absent marker is not enough, so DueAtSet must be
// true for DueAt to take effect, and a nil DueAt with DueAtSet true clears
// the due date).
type Partial struct {
	Title     *string
	Status    *Status
	Priority  *Priority
	Labels    *[]string
	Metadata  *map[string]string
	DueAt     *string
	DueAtSet  bool
}

// Update appends one update op per changed field within a single
// transaction and returns the materialized Task afterward.
func (s *TaskService) Update(ctx context.Context, id string, p Partial) (Task, error) {
	deviceID, err := s.device.GetDeviceID(ctx)
	if err != nil {
		return Task{}, err
	}

	type fieldWrite struct {
		field FieldName
		value *string
	}
	var writes []fieldWrite

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return Task{}, newConstraintError("title", "must not be empty")
		}
		writes = append(writes, fieldWrite{FieldTitle, &title})
	}
	if p.Status != nil {
		if !p.Status.valid() {
			return Task{}, newConstraintError("status", "unknown status")
		}
		v := string(*p.Status)
		writes = append(writes, fieldWrite{FieldStatus, &v})
	}
	if p.Priority != nil {
		if !p.Priority.valid() {
			return Task{}, newConstraintError("priority", "unknown priority")
		}
		v := string(*p.Priority)
		writes = append(writes, fieldWrite{FieldPriority, &v})
	}
	if p.Labels != nil {
		v, err := encodeLabels(*p.Labels)
		if err != nil {
			return Task{}, newConstraintError("labels", err.Error())
		}
		writes = append(writes, fieldWrite{FieldLabels, &v})
	}
	if p.Metadata != nil {
		v, err := encodeMetadata(*p.Metadata)
		if err != nil {
			return Task{}, newConstraintError("metadata", err.Error())
		}
		writes = append(writes, fieldWrite{FieldMetadata, &v})
	}
	if p.DueAtSet {
		writes = append(writes, fieldWrite{FieldDueAt, p.DueAt})
	}

	if len(writes) == 0 {
		return s.Get(ctx, id)
	}

	var result Task
	err = s.withTxn(ctx, func(tx *sql.Tx) error {
		var exists int
		lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
		if lookupErr == sql.ErrNoRows {
			return newNotFoundError(id)
		}
		if lookupErr != nil {
			return newStorageError("update: lookup task", lookupErr)
		}

		entries := make([]OplogEntry, 0, len(writes))
		for _, w := range writes {
			field := string(w.field)
			entry, err := s.writer.Append(ctx, tx, pendingOp{
				TaskID:   id,
				DeviceID: deviceID,
				OpType:   OpUpdate,
				Field:    &field,
				Value:    w.value,
			}, 0)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		if err := s.replayer.Replay(ctx, tx, entries); err != nil {
			return err
		}
		result, err = getTaskTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.incAppended(len(writes))
	return result, nil
}

// Delete appends a single delete op, tombstoning the task.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	deviceID, err := s.device.GetDeviceID(ctx)
	if err != nil {
		return err
	}
	return s.withTxn(ctx, func(tx *sql.Tx) error {
		var exists int
		lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
		if lookupErr == sql.ErrNoRows {
			return newNotFoundError(id)
		}
		if lookupErr != nil {
			return newStorageError("delete: lookup task", lookupErr)
		}
		entry, err := s.writer.Append(ctx, tx, pendingOp{
			TaskID:   id,
			DeviceID: deviceID,
			OpType:   OpDelete,
		}, 0)
		if err != nil {
			return err
		}
		if err := s.replayer.Replay(ctx, tx, []OplogEntry{entry}); err != nil {
			return err
		}
		s.incAppended(1)
		return nil
	})
}

// AddNote appends a single update(notes, text) op using the append rule.
func (s *TaskService) AddNote(ctx context.Context, id, text string) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, newConstraintError("note", "must not be empty")
	}
	deviceID, err := s.device.GetDeviceID(ctx)
	if err != nil {
		return Task{}, err
	}

	field := string(FieldNotes)
	var result Task
	err = s.withTxn(ctx, func(tx *sql.Tx) error {
		var exists int
		lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
		if lookupErr == sql.ErrNoRows {
			return newNotFoundError(id)
		}
		if lookupErr != nil {
			return newStorageError("add note: lookup task", lookupErr)
		}
		entry, err := s.writer.Append(ctx, tx, pendingOp{
			TaskID:   id,
			DeviceID: deviceID,
			OpType:   OpUpdate,
			Field:    &field,
			Value:    &text,
		}, 0)
		if err != nil {
			return err
		}
		if err := s.replayer.Replay(ctx, tx, []OplogEntry{entry}); err != nil {
			return err
		}
		result, err = getTaskTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.incAppended(1)
	return result, nil
}

// Get returns the materialized Task for id, or a NotFoundError.
func (s *TaskService) Get(ctx context.Context, id string) (Task, error) {
	row := s.store.Reader().QueryRowContext(ctx, `
		SELECT id, title, status, priority, labels, notes, metadata, due_at, created_at, updated_at, deleted_at
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, newNotFoundError(id)
	}
	if err != nil {
		return Task{}, newStorageError("get task", err)
	}
	return t, nil
}

// List returns tasks matching f, sorted per §4.8's default order.
func (s *TaskService) List(ctx context.Context, f Filter) ([]Task, error) {
	query, args := buildListQuery(f, time.Now())
	rows, err := s.store.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError("list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, newStorageError("scan task row", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("iterate tasks", err)
	}
	return out, nil
}

// ListLabels returns the unique labels across every non-tombstoned task.
func (s *TaskService) ListLabels(ctx context.Context) ([]string, error) {
	rows, err := s.store.Reader().QueryContext(ctx, `SELECT labels FROM tasks WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, newStorageError("list labels", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, newStorageError("scan labels", err)
		}
		labels, err := decodeLabels(raw)
		if err != nil {
			continue
		}
		for _, l := range labels {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("iterate labels", err)
	}
	return out, nil
}

// Context is the dashboard summary returned by GetContext.
type Context struct {
	CountsByStatus map[Status]int
	Overdue        []Task
	DueToday       []Task
	InProgress     []Task
}

// GetContext returns counts by status plus the overdue, due-today, and
// in-progress task lists — the at-a-glance dashboard external collaborators
// render.
func (s *TaskService) GetContext(ctx context.Context) (Context, error) {
	counts := map[Status]int{StatusTodo: 0, StatusInProgress: 0, StatusDone: 0}
	rows, err := s.store.Reader().QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks WHERE deleted_at IS NULL GROUP BY status
	`)
	if err != nil {
		return Context{}, newStorageError("context: counts", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Context{}, newStorageError("context: scan counts", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Context{}, newStorageError("context: iterate counts", err)
	}
	rows.Close()

	overdue, err := s.List(ctx, Filter{DueWindow: DueOverdue})
	if err != nil {
		return Context{}, err
	}
	dueToday, err := s.List(ctx, Filter{DueWindow: DueToday})
	if err != nil {
		return Context{}, err
	}
	inProgress, err := s.List(ctx, Filter{Status: []Status{StatusInProgress}})
	if err != nil {
		return Context{}, err
	}

	return Context{
		CountsByStatus: counts,
		Overdue:        overdue,
		DueToday:       dueToday,
		InProgress:     inProgress,
	}, nil
}

// withTxn runs fn inside a single transaction on the writer connection,
// committing on success and rolling back on any error or panic.
func (s *TaskService) withTxn(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.store.Writer().BeginTx(ctx, nil)
	if err != nil {
		return newStorageError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newStorageError("commit transaction", err)
	}
	return nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (Task, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, title, status, priority, labels, notes, metadata, due_at, created_at, updated_at, deleted_at
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, newNotFoundError(id)
	}
	if err != nil {
		return Task{}, newStorageError("get task", err)
	}
	return t, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t         Task
		status    string
		priority  string
		labels    string
		notes     string
		metadata  string
		dueAt     sql.NullString
		deletedAt sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Title, &status, &priority, &labels, &notes, &metadata, &dueAt, &t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	if t.Labels, err = decodeLabels(labels); err != nil {
		return Task{}, newStorageError("decode labels", err)
	}
	if t.Notes, err = decodeNotes(notes); err != nil {
		return Task{}, newStorageError("decode notes", err)
	}
	if t.Metadata, err = decodeMetadata(metadata); err != nil {
		return Task{}, newStorageError("decode metadata", err)
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Int64
	}
	return t, nil
}
