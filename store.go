package oru

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DefaultDBPath returns $ORU_DB_PATH if set, otherwise $HOME/.oru/oru.db.
func DefaultDBPath() string {
	if p := os.Getenv("ORU_DB_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".oru", "oru.db")
}

// Store owns the single writer connection to the embedded database plus a
// read-only pool for concurrent queries. All writes in the core serialize
// through writer; readers may run on ro without blocking on in-flight
// writes.
type Store struct {
	path   string
	writer *sql.DB
	ro     *sql.DB
}

// Open creates the parent directory if needed, opens the database at path
// (or DefaultDBPath() if empty), sets WAL mode and foreign key enforcement,
// and runs pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, newStorageError("mkdir", err)
		}
	}

	writer, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, newStorageError("open writer", err)
	}
	writer.SetMaxOpenConns(1)

	ro, err := sql.Open("sqlite", path)
	if err != nil {
		writer.Close()
		return nil, newStorageError("open reader", err)
	}

	s := &Store{path: path, writer: writer, ro: ro}
	if err := s.pragma(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := migrate(ctx, s.writer); err != nil {
		s.Close()
		return nil, err
	}
	log.WithField("path", path).Info("ORU store opened")
	return s, nil
}

func (s *Store) pragma(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, stmt := range stmts {
		if _, err := s.writer.ExecContext(ctx, stmt); err != nil {
			return newStorageError(fmt.Sprintf("pragma %q", stmt), err)
		}
	}
	return nil
}

// Close closes both the writer and reader connections.
func (s *Store) Close() error {
	var err error
	if s.writer != nil {
		if e := s.writer.Close(); e != nil {
			err = e
		}
	}
	if s.ro != nil {
		if e := s.ro.Close(); e != nil {
			err = e
		}
	}
	return err
}

// Writer returns the single serialized write connection.
func (s *Store) Writer() *sql.DB { return s.writer }

// Reader returns the read-only pool for concurrent queries.
func (s *Store) Reader() *sql.DB { return s.ro }
