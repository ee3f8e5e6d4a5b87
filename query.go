package oru

import (
	"fmt"
	"strings"
	"time"
)

// DueWindow names a relative due-date bucket for list filtering.
type DueWindow string

const (
	DueOverdue  DueWindow = "overdue"
	DueToday    DueWindow = "today"
	DueThisWeek DueWindow = "this_week"
)

// Filter describes a read-only query over the materialized tasks table.
// The zero value matches every non-tombstoned task.
type Filter struct {
	Status         []Status
	Priority       []Priority
	Label          string // must-contain
	TitleContains  string
	DueWindow      DueWindow
	DueBefore      *string
	DueAfter       *string
	IncludeDeleted bool
}

// queryBuilder accumulates a parameterized WHERE clause; kept separate from
// Filter so building stays a pure function of the filter value and a
// reference "now", not a method with hidden clock access.
type queryBuilder struct {
	clauses []string
	args    []any
}

func (q *queryBuilder) add(clause string, args ...any) {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
}

// buildListQuery compiles f into a single parameterized SELECT against
// tasks, following the default sort: status, then priority (urgent→low),
// then due_at (nulls last), then created_at ascending.
func buildListQuery(f Filter, now time.Time) (string, []any) {
	qb := &queryBuilder{}

	if !f.IncludeDeleted {
		qb.add("deleted_at IS NULL")
	}
	if len(f.Status) > 0 {
		qb.add(inClause("status", len(f.Status)), statusArgs(f.Status)...)
	}
	if len(f.Priority) > 0 {
		qb.add(inClause("priority", len(f.Priority)), priorityArgs(f.Priority)...)
	}
	if f.Label != "" {
		// labels is stored as a JSON array; a substring match on the
		// quoted label avoids requiring SQLite's JSON1 extension. Labels
		// are only trimmed and deduplicated (task.go), not checked for
		// quotes, so a label whose JSON encoding escapes characters is
		// not matched.
		qb.add("labels LIKE ?", "%\""+f.Label+"\"%")
	}
	if f.TitleContains != "" {
		qb.add("title LIKE ?", "%"+f.TitleContains+"%")
	}
	switch f.DueWindow {
	case DueOverdue:
		qb.add("due_at IS NOT NULL AND due_at < ?", formatLocal(now))
	case DueToday:
		startOfDay := now.Format("2006-01-02") + "T00:00:00"
		endOfDay := now.Format("2006-01-02") + "T23:59:59"
		qb.add("due_at IS NOT NULL AND due_at BETWEEN ? AND ?", startOfDay, endOfDay)
	case DueThisWeek:
		end := now.AddDate(0, 0, 7)
		qb.add("due_at IS NOT NULL AND due_at BETWEEN ? AND ?", formatLocal(now), formatLocal(end))
	}
	if f.DueBefore != nil {
		qb.add("due_at IS NOT NULL AND due_at < ?", *f.DueBefore)
	}
	if f.DueAfter != nil {
		qb.add("due_at IS NOT NULL AND due_at > ?", *f.DueAfter)
	}

	query := `SELECT id, title, status, priority, labels, notes, metadata, due_at, created_at, updated_at, deleted_at FROM tasks`
	if len(qb.clauses) > 0 {
		query += " WHERE " + strings.Join(qb.clauses, " AND ")
	}
	query += `
		ORDER BY
			CASE status WHEN 'todo' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'done' THEN 2 ELSE 3 END,
			CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
			CASE WHEN due_at IS NULL THEN 1 ELSE 0 END,
			due_at ASC,
			created_at ASC
	`
	return query, qb.args
}

func inClause(column string, n int) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

func statusArgs(statuses []Status) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func priorityArgs(priorities []Priority) []any {
	out := make([]any, len(priorities))
	for i, p := range priorities {
		out[i] = string(p)
	}
	return out
}

func formatLocal(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}
