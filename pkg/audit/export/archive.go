package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"mercator-hq/keyweave/pkg/audit"
)

// RecordSource lists audit records. *audit.Log implements it.
type RecordSource interface {
	All(ctx context.Context, q *audit.Query) ([]*audit.Record, error)
}

// Archiver writes audit records to timestamped files. Each run covers the
// records appended since the previous run, oldest first. The ledger itself
// is never modified.
type Archiver struct {
	source   RecordSource
	dir      string
	exporter StreamExporter
	now      func() time.Time

	mu     sync.Mutex
	lastID int64

	logger *slog.Logger
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithArchiveClock replaces the time source used for file names.
func WithArchiveClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver creates an archiver writing format ("json" or "csv") files
// into dir.
func NewArchiver(source RecordSource, dir, format string, opts ...ArchiverOption) (*Archiver, error) {
	exp, err := ForFormat(format)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	a := &Archiver{
		source:   source,
		dir:      dir,
		exporter: exp,
		now:      time.Now,
		logger:   slog.Default().With("component", "audit.archive"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Archive exports the records appended since the last run. It returns the
// file written and the record count; with nothing new it writes no file
// and returns an empty path.
func (a *Archiver) Archive(ctx context.Context) (string, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.source.All(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to query records for archiving: %w", err)
	}

	var fresh []*audit.Record
	for _, r := range all {
		if r.ID > a.lastID {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		a.logger.Debug("no new audit records to archive")
		return "", 0, nil
	}
	slices.SortFunc(fresh, func(x, y *audit.Record) int {
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		}
		return 0
	})

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("audit-%s.%s", a.now().UTC().Format("20060102-150405"), a.exporter.Extension())
	path := filepath.Join(a.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create archive file: %w", err)
	}

	if err := a.exporter.Export(ctx, fresh, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, audit.NewExportError(a.exporter.Extension(), len(fresh), err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close archive file: %w", err)
	}

	a.lastID = fresh[len(fresh)-1].ID
	a.logger.Info("audit records archived",
		"archive_file", path,
		"record_count", len(fresh),
	)
	return path, len(fresh), nil
}
