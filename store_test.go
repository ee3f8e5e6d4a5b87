package oru

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh SQLite-backed Store in a per-test temp
// directory. Real files, not ":memory:", are used throughout the test
// suite because modernc.org/sqlite treats each connection's ":memory:" DSN
// as an independent database, which would make the writer and read-only
// pool diverge.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), filepath.Join(dir, "oru.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T) (*TaskService, *Store) {
	t.Helper()
	store := newTestStore(t)
	device := NewDeviceIdentity(store)
	stats := NewStats("test")
	return NewTaskService(store, device, stats), store
}
