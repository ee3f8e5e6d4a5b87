package oru

import (
	"context"
	"database/sql"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations lists every forward-only schema change in ascending version
// order. Nothing here is ever edited once released; new schema changes are
// appended as a new version.
var migrations = []migration{
	{
		version: 1,
		name:    "create core tables",
		sql: `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS oplog (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	op_type TEXT NOT NULL,
	field TEXT,
	value TEXT,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_oplog_task ON oplog(task_id, timestamp, id);
CREATE INDEX IF NOT EXISTS idx_oplog_device ON oplog(device_id, id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	labels TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	due_at TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_at);
`,
	},
}

// schemaVersion reads schema_version from meta, treating an absent row (or
// an absent meta table, on a brand new database) as version 0.
func schemaVersion(ctx context.Context, db *sql.DB) int {
	row := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`)
	var v string
	if err := row.Scan(&v); err != nil {
		return 0
	}
	version, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return version
}

// migrate applies every migration whose version exceeds the database's
// current schema_version, in ascending order, inside a single wrapping
// transaction. Partial failure rolls the whole batch back and leaves the
// database exactly as it was.
func migrate(ctx context.Context, db *sql.DB) error {
	current := schemaVersion(ctx, db)

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if m.version > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(pending[0].version, pending[0].name, err)
	}
	defer tx.Rollback()

	final := current
	for _, m := range pending {
		log.WithFields(log.Fields{"version": m.version, "name": m.name}).Info("ORU applying migration")
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return newMigrationError(m.version, m.name, err)
		}
		final = m.version
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta(key, value) VALUES('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(final)); err != nil {
		return newMigrationError(final, "upsert schema_version", err)
	}

	if err := tx.Commit(); err != nil {
		return newMigrationError(final, "commit", err)
	}
	return nil
}
