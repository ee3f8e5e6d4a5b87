// Package oru implements the durable core of a local-first task manager: an
// append-only operation log (oplog), a deterministic replay engine that
// materializes the log into a queryable task table, and a multi-device sync
// engine that exchanges oplog entries with a pluggable remote backend.
//
// Everything else — terminal rendering, HTTP routing, MCP tool dispatch,
// CLI argument parsing — is an external collaborator built on top of the
// Task Service (TaskService) and Sync Engine (SyncEngine) exported here.
package oru

// VERSION is the current release of the oru core.
const VERSION = "0.1.0"
