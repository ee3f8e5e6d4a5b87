package oru

import (
	"expvar"
	"strconv"
	"sync/atomic"
)

// Stats stores all the operational counters published by a running oru
// core, in the teacher's expvar idiom.
type Stats struct {
	// Total number of oplog entries successfully appended by this device.
	OpsAppended *expvar.Int
	// Total number of oplog entries successfully folded into the tasks
	// table by Replay.
	OpsReplayed *expvar.Int
	// Total number of entries Replay dropped: out-of-order updates/deletes
	// with no matching create yet, stale LWW writes, or undecodable values.
	ReplaySkipped *expvar.Int
	// Total number of entries pushed to the remote across all Sync calls.
	SyncPushed *expvar.Int
	// Total number of entries pulled from the remote across all Sync calls.
	SyncPulled *expvar.Int
	// Total number of remote Push/Pull failures, each returned as
	// RemoteUnavailable.
	SyncErrors *expvar.Int
}

// statsInstance disambiguates concurrent Stats instances sharing a name
// (chiefly in tests, which open many short-lived Stores): expvar panics on
// a duplicate Publish, so every NewStats call gets its own numeric suffix.
var statsInstance int64

// NewStats creates a fresh, independently-named set of counters published
// under the global expvar registry. name is used as a prefix; "" selects
// the default prefix "oru" (cmd/oru-sync passes "", cmd/orud passes "orud").
func NewStats(name string) *Stats {
	prefix := name
	if prefix == "" {
		prefix = "oru"
	}
	n := atomic.AddInt64(&statsInstance, 1)
	prefix = prefix + "_" + strconv.FormatInt(n, 10) + "_"

	return &Stats{
		OpsAppended:   expvar.NewInt(prefix + "ops_appended"),
		OpsReplayed:   expvar.NewInt(prefix + "ops_replayed"),
		ReplaySkipped: expvar.NewInt(prefix + "replay_skipped"),
		SyncPushed:    expvar.NewInt(prefix + "sync_pushed"),
		SyncPulled:    expvar.NewInt(prefix + "sync_pulled"),
		SyncErrors:    expvar.NewInt(prefix + "sync_errors"),
	}
}
