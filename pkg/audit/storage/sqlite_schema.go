package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the audit database schema.
// Timestamps are stored as Unix nanoseconds so ordering is numeric.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp INTEGER NOT NULL,
    operator TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    target_key_id TEXT NOT NULL,
    old_weight INTEGER NOT NULL,
    new_weight INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    metadata TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- The ledger is append-only
CREATE TRIGGER IF NOT EXISTS audit_records_no_update
BEFORE UPDATE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are immutable');
END;

CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
BEFORE DELETE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are immutable');
END;

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_audit_target_key ON audit_records(target_key_id);
CREATE INDEX IF NOT EXISTS idx_audit_operation_type ON audit_records(operation_type);
CREATE INDEX IF NOT EXISTS idx_audit_source ON audit_records(source);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertRecord = `
INSERT INTO audit_records (
    timestamp, operator, operation_type, target_key_id,
    old_weight, new_weight, reason, source, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `
SELECT id, timestamp, operator, operation_type, target_key_id,
       old_weight, new_weight, reason, source, metadata
FROM audit_records
`
