// Package snapshot captures the key pool's weights and restores them.
//
// A Snapshot is a full copy of every key's weight and enabled flag. Rollback
// diffs a snapshot against the live pool and applies only the keys that
// differ through the pool's single mutation path, so the restore is atomic
// and audited like any other change.
//
// Two stores are provided: MemoryStore, and SQLiteStore on the pure-Go
// modernc.org/sqlite driver.
package snapshot
