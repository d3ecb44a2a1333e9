// Package storage provides audit ledger backends.
//
// MemoryStorage keeps records for the lifetime of the process. SQLiteStorage
// persists them with github.com/mattn/go-sqlite3; the schema installs
// triggers that abort any UPDATE or DELETE on the audit table, so the ledger
// stays append-only even against direct SQL access through this driver.
package storage
