package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    automatic INTEGER NOT NULL DEFAULT 0,
    view_version INTEGER NOT NULL DEFAULT 0,
    keys TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS snapshots_no_update
BEFORE UPDATE ON snapshots
BEGIN
    SELECT RAISE(ABORT, 'snapshots are immutable');
END;

CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp DESC, seq DESC);
`

const selectSnapshot = `
SELECT id, description, created_by, timestamp, automatic, view_version, keys
FROM snapshots
`

// SQLiteConfig configures the SQLite snapshot store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore implements Store on the pure-Go SQLite driver.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, NewStorageError("sqlite", "open", fmt.Errorf("db path cannot be empty"))
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewStorageError("sqlite", "mkdir", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, NewStorageError("sqlite", "create_schema", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		logger: slog.Default().With("component", "snapshot.sqlite"),
	}
	s.logger.Info("SQLite snapshot store initialized", "path", cfg.Path)
	return s, nil
}

// Save inserts s.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	keys, err := json.Marshal(snap.Keys)
	if err != nil {
		return NewStorageError("sqlite", "marshal_keys", err)
	}

	automatic := 0
	if snap.Automatic {
		automatic = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, description, created_by, timestamp, automatic, view_version, keys)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Description, snap.CreatedBy, snap.Timestamp.UnixNano(),
		automatic, int64(snap.ViewVersion), string(keys),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return NewStorageError("sqlite", "save", ErrDuplicateSnapshot)
		}
		return NewStorageError("sqlite", "save", err)
	}
	return nil
}

// Get returns the snapshot with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshot+" WHERE id = ?", id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &SnapshotNotFoundError{ID: id}
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "get", err)
	}
	return snap, nil
}

// List returns every snapshot, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectSnapshot+" ORDER BY timestamp DESC, seq DESC")
	if err != nil {
		return nil, NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	out := []*Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list", err)
	}
	return out, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite snapshot store closed", "path", s.path)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		snap      Snapshot
		ts        int64
		automatic int
		version   int64
		keys      string
	)
	if err := row.Scan(&snap.ID, &snap.Description, &snap.CreatedBy, &ts, &automatic, &version, &keys); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keys), &snap.Keys); err != nil {
		return nil, fmt.Errorf("decode keys of snapshot %q: %w", snap.ID, err)
	}
	snap.Timestamp = time.Unix(0, ts).UTC()
	snap.Automatic = automatic != 0
	snap.ViewVersion = uint64(version)
	return &snap, nil
}
