package oru

import (
	"context"
	"database/sql"

	log "github.com/sirupsen/logrus"
)

// SyncResult reports how many entries moved in each direction of a Sync
// call.
type SyncResult struct {
	Pushed int
	Pulled int
}

// SyncEngine exchanges oplog entries with a RemoteBackend, tracking a
// per-device push high-water mark and pull cursor in the meta table so a
// partially failed sync is always safe to retry.
type SyncEngine struct {
	store    *Store
	device   *DeviceIdentity
	remote   RemoteBackend
	writer   *Writer
	reader   *Reader
	replayer *Replayer
	stats    *Stats
}

// NewSyncEngine wires a SyncEngine on top of an already-open Store and a
// RemoteBackend implementation.
func NewSyncEngine(store *Store, device *DeviceIdentity, remote RemoteBackend, stats *Stats) *SyncEngine {
	return &SyncEngine{
		store:    store,
		device:   device,
		remote:   remote,
		writer:   NewWriter(),
		reader:   NewReader(),
		replayer: NewReplayer(stats),
		stats:    stats,
	}
}

func pushHwmKey(deviceID string) string   { return "push_hwm_" + deviceID }
func pullCursorKey(deviceID string) string { return "pull_cursor_" + deviceID }

// Push selects this device's oplog entries with id > push_hwm, sends them
// to the remote, and advances push_hwm to the last entry's id. It returns
// the number of entries pushed; if there is nothing new it returns 0
// without calling the remote at all.
func (s *SyncEngine) Push(ctx context.Context) (int, error) {
	deviceID, err := s.device.GetDeviceID(ctx)
	if err != nil {
		return 0, err
	}

	hwm, _, err := metaGet(ctx, s.store.Writer(), pushHwmKey(deviceID))
	if err != nil {
		return 0, err
	}

	entries, err := s.reader.ByDeviceSince(ctx, s.store.Writer(), deviceID, hwm)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := s.remote.Push(ctx, entries); err != nil {
		if s.stats != nil {
			s.stats.SyncErrors.Add(1)
		}
		log.WithError(err).Warn("ORU sync: push to remote failed, push_hwm not advanced")
		return 0, newRemoteUnavailableError("push", err)
	}

	last := entries[len(entries)-1].ID
	if err := metaSet(ctx, s.store.Writer(), pushHwmKey(deviceID), last); err != nil {
		return 0, err
	}

	if s.stats != nil {
		s.stats.SyncPushed.Add(int64(len(entries)))
	}
	return len(entries), nil
}

// Pull calls remote.Pull(pull_cursor); if it returns anything new, ingests
// the entries (INSERT OR IGNORE), replays each affected task's full sorted
// history, and advances pull_cursor. It returns the count of entries whose
// device_id is not this device's own.
func (s *SyncEngine) Pull(ctx context.Context) (int, error) {
	deviceID, err := s.device.GetDeviceID(ctx)
	if err != nil {
		return 0, err
	}

	cursor, _, err := metaGet(ctx, s.store.Writer(), pullCursorKey(deviceID))
	if err != nil {
		return 0, err
	}

	entries, newCursor, err := s.remote.Pull(ctx, cursor)
	if err != nil {
		if s.stats != nil {
			s.stats.SyncErrors.Add(1)
		}
		log.WithError(err).Warn("ORU sync: pull from remote failed, pull_cursor not advanced")
		return 0, newRemoteUnavailableError("pull", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	foreignCount := 0
	affectedTasks := map[string]bool{}
	for _, e := range entries {
		if e.DeviceID != deviceID {
			foreignCount++
		}
		affectedTasks[e.TaskID] = true
	}

	err = s.withTxn(ctx, func(tx *sql.Tx) error {
		if err := s.writer.AppendMany(ctx, tx, entries); err != nil {
			return err
		}
		// Out-of-order delivery can surface an update whose create
		// arrives later; replaying each affected task's full sorted
		// history from scratch (rather than just the newly-ingested
		// slice) restores correctness deterministically. This is
		// equivalent to a full rebuild restricted to the rows touched by
		// this pull.
		for taskID := range affectedTasks {
			history, err := s.reader.ByTask(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
				return newStorageError("pull: reset task row", err)
			}
			if err := s.replayer.Replay(ctx, tx, history); err != nil {
				return err
			}
		}
		return metaSet(ctx, tx, pullCursorKey(deviceID), newCursor)
	})
	if err != nil {
		return 0, err
	}

	if s.stats != nil {
		s.stats.SyncPulled.Add(int64(len(entries)))
	}
	return foreignCount, nil
}

// Sync runs Push then Pull, in that order, so a local mutation becomes
// observable remotely before this call can return anything pulled back in.
func (s *SyncEngine) Sync(ctx context.Context) (SyncResult, error) {
	pushed, err := s.Push(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	pulled, err := s.Pull(ctx)
	if err != nil {
		return SyncResult{Pushed: pushed}, err
	}
	return SyncResult{Pushed: pushed, Pulled: pulled}, nil
}

func (s *SyncEngine) withTxn(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.store.Writer().BeginTx(ctx, nil)
	if err != nil {
		return newStorageError("sync: begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return newStorageError("sync: commit transaction", err)
	}
	return nil
}
