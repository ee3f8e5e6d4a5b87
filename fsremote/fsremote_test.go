package fsremote

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tchayen/oru"
)

func openTestRemote(t *testing.T) *Remote {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(context.Background(), filepath.Join(dir, "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func sampleEntry(id, taskID string, ts int64) oru.OplogEntry {
	return oru.OplogEntry{
		ID: id, TaskID: taskID, DeviceID: "dev1", OpType: oru.OpCreate,
		Value: nil, Timestamp: ts,
	}
}

func TestFsRemotePullEmptyLeavesCursorUnchanged(t *testing.T) {
	r := openTestRemote(t)
	entries, cursor, err := r.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, "", cursor)
}

func TestFsRemotePushThenPullReturnsAllAndAdvancesCursor(t *testing.T) {
	r := openTestRemote(t)
	ctx := context.Background()
	entries := []oru.OplogEntry{
		sampleEntry("e1", "t1", 10),
		sampleEntry("e2", "t2", 20),
	}
	require.NoError(t, r.Push(ctx, entries))

	pulled, cursor, err := r.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, pulled, 2)
	require.NotEqual(t, "", cursor)

	again, cursor2, err := r.Pull(ctx, cursor)
	require.NoError(t, err)
	require.Empty(t, again)
	require.Equal(t, cursor, cursor2)
}

func TestFsRemotePushIsIdempotentByID(t *testing.T) {
	r := openTestRemote(t)
	ctx := context.Background()
	entry := sampleEntry("e1", "t1", 10)

	require.NoError(t, r.Push(ctx, []oru.OplogEntry{entry}))
	require.NoError(t, r.Push(ctx, []oru.OplogEntry{entry}))

	pulled, _, err := r.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, pulled, 1, "duplicate push by id should not duplicate rows")
}
