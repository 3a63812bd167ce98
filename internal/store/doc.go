// Package store provides persistent storage for the coordinator using SQLite.
//
// The Store interface covers the four durable entities of the fleet:
// devices (auto-provisioned, heartbeat snapshots), remote commands
// (per-device FIFO with idempotent acknowledgment), assignments (one
// active per device, single-row upsert supersede), and presentations with
// their ordered slides. SQLiteStore implements the interface on
// modernc.org/sqlite with the schema created on open.
//
// Rows are mutated through independent single-row upserts; the only
// multi-row write is presentation creation, which inserts the deck and its
// slides in one transaction.
package store
