package oru

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tchayen/oru/fsremote"
)

type replicaFixture struct {
	store   *Store
	device  *DeviceIdentity
	service *TaskService
	sync    *SyncEngine
}

func newReplica(t *testing.T, remote *fsremote.Remote) replicaFixture {
	t.Helper()
	store := newTestStore(t)
	device := NewDeviceIdentity(store)
	stats := NewStats("test")
	return replicaFixture{
		store:   store,
		device:  device,
		service: NewTaskService(store, device, stats),
		sync:    NewSyncEngine(store, device, remote, stats),
	}
}

func newTestRemote(t *testing.T) *fsremote.Remote {
	t.Helper()
	dir := t.TempDir()
	remote, err := fsremote.Open(context.Background(), filepath.Join(dir, "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })
	return remote
}

func TestSyncPushThenPullPropagatesBetweenReplicas(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	a := newReplica(t, remote)
	b := newReplica(t, remote)

	task, err := a.service.Create(ctx, CreateInput{Title: "shared task"})
	require.NoError(t, err)

	result, err := a.sync.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pushed)

	result, err = b.sync.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pulled)

	fetched, err := b.service.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "shared task", fetched.Title)
}

func TestSyncConvergesAfterConcurrentEdits(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	a := newReplica(t, remote)
	b := newReplica(t, remote)

	task, err := a.service.Create(ctx, CreateInput{Title: "converge me"})
	require.NoError(t, err)
	_, err = a.sync.Sync(ctx)
	require.NoError(t, err)
	_, err = b.sync.Sync(ctx)
	require.NoError(t, err)

	titleA := "edited on a"
	_, err = a.service.Update(ctx, task.ID, Partial{Title: &titleA})
	require.NoError(t, err)
	statusB := StatusInProgress
	_, err = b.service.Update(ctx, task.ID, Partial{Status: &statusB})
	require.NoError(t, err)

	_, err = a.sync.Sync(ctx)
	require.NoError(t, err)
	_, err = b.sync.Sync(ctx)
	require.NoError(t, err)
	_, err = a.sync.Sync(ctx)
	require.NoError(t, err)

	taskA, err := a.service.Get(ctx, task.ID)
	require.NoError(t, err)
	taskB, err := b.service.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, taskA, taskB)
	require.Equal(t, "edited on a", taskA.Title)
	require.Equal(t, StatusInProgress, taskA.Status)
}

func TestSyncPushAdvancesHighWaterMarkMonotonically(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	a := newReplica(t, remote)

	_, err := a.service.Create(ctx, CreateInput{Title: "one"})
	require.NoError(t, err)
	pushed, err := a.sync.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pushed)

	pushed, err = a.sync.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, pushed, "nothing new to push should not re-send")

	_, err = a.service.Create(ctx, CreateInput{Title: "two"})
	require.NoError(t, err)
	pushed, err = a.sync.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pushed)
}

func TestSyncPullDoesNotCountOwnEntries(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	a := newReplica(t, remote)

	_, err := a.service.Create(ctx, CreateInput{Title: "mine"})
	require.NoError(t, err)
	_, err = a.sync.Push(ctx)
	require.NoError(t, err)

	pulled, err := a.sync.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, pulled, "pulling back entries this device itself pushed should not count as foreign")
}

type failingRemote struct {
	failPush bool
}

func (f *failingRemote) Push(ctx context.Context, entries []OplogEntry) error {
	if f.failPush {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *failingRemote) Pull(ctx context.Context, cursor string) ([]OplogEntry, string, error) {
	return nil, cursor, nil
}

func TestSyncPushRetriesAfterRemoteUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	device := NewDeviceIdentity(store)
	stats := NewStats("test")
	svc := NewTaskService(store, device, stats)

	remote := &failingRemote{failPush: true}
	engine := NewSyncEngine(store, device, remote, stats)

	_, err := svc.Create(ctx, CreateInput{Title: "retry me"})
	require.NoError(t, err)

	_, err = engine.Push(ctx)
	var ru *RemoteUnavailableError
	require.ErrorAs(t, err, &ru)

	remote.failPush = false
	pushed, err := engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pushed, "push_hwm must not have advanced on the failed attempt")
}
