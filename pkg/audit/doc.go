// Package audit is the append-only ledger of key weight changes.
//
// Every mutation of the key pool produces one Record per changed key. Records
// receive a monotonic id when appended, are never modified or removed, and
// are always returned newest first (timestamp descending, ties broken by id
// descending).
//
// Storage backends live in the storage subpackage (in-memory and SQLite);
// JSON and CSV exporters live in the export subpackage.
//
// # Usage
//
//	store, _ := storage.NewSQLiteStorage(storage.DefaultSQLiteConfig())
//	log := audit.NewLog(store, audit.LogOptions{})
//
//	page, err := log.Query(ctx, &audit.Query{
//	    KeyID:         "primary",
//	    OperationType: audit.OpBatch,
//	    Limit:         50,
//	})
package audit
