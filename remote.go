package oru

import "context"

// RemoteBackend abstracts the transport SyncEngine pushes to and pulls
// from. The reference implementation (package fsremote) is a second local
// SQLite oplog database; an HTTP-based remote (see package httpremote) can
// be substituted without any change to SyncEngine.
type RemoteBackend interface {
	// Push ingests entries idempotently: a duplicate id must be dropped,
	// not double-applied. Implementations must persist with
	// at-least-once semantics.
	Push(ctx context.Context, entries []OplogEntry) error

	// Pull returns every entry strictly after cursor in the remote's
	// canonical order, plus a new cursor reflecting the last entry
	// returned. cursor is opaque to the caller; an empty string means
	// "from the beginning". If there is nothing new, the returned cursor
	// equals the input cursor.
	Pull(ctx context.Context, cursor string) ([]OplogEntry, string, error)
}
