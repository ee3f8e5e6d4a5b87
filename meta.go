package oru

import (
	"context"
	"database/sql"
)

const (
	metaKeyDeviceID = "device_id"
)

func metaGet(ctx context.Context, db querier, key string) (string, bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, newStorageError("meta get", err)
	}
	return v, true, nil
}

func metaSet(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO meta(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return newStorageError("meta set", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx for read-only meta access.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer is satisfied by *sql.DB and *sql.Tx for meta upserts.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DeviceIdentity resolves and persists the stable per-device identifier used
// to key push_hwm/pull_cursor meta rows and to stamp every oplog entry this
// replica writes. Once set, the value never changes.
type DeviceIdentity struct {
	store *Store
}

// NewDeviceIdentity returns a DeviceIdentity bound to store.
func NewDeviceIdentity(store *Store) *DeviceIdentity {
	return &DeviceIdentity{store: store}
}

// GetDeviceID reads device_id from meta; if absent, it generates a UUIDv7
// and persists it before returning.
func (d *DeviceIdentity) GetDeviceID(ctx context.Context) (string, error) {
	existing, ok, err := metaGet(ctx, d.store.Writer(), metaKeyDeviceID)
	if err != nil {
		return "", err
	}
	if ok {
		return existing, nil
	}

	id, err := NewID()
	if err != nil {
		return "", err
	}
	if err := metaSet(ctx, d.store.Writer(), metaKeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
