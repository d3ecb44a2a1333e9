package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/keyweave/internal/keytest"
	"mercator-hq/keyweave/pkg/audit"
)

func TestArchiver_Incremental(t *testing.T) {
	ctx := context.Background()
	log := keytest.AuditLog(t)
	clock := keytest.NewClock()
	dir := filepath.Join(t.TempDir(), "archives")

	a, err := NewArchiver(log, dir, "json", WithArchiveClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	path, n, err := a.Archive(ctx)
	if err != nil || path != "" || n != 0 {
		t.Fatalf("empty Archive() = %q, %d, %v", path, n, err)
	}

	if err := log.Append(ctx, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	path, n, err = a.Archive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || filepath.Base(path) != "audit-20260101-000000.json" {
		t.Fatalf("Archive() = %q, %d", path, n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []audit.Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID >= got[1].ID {
		t.Errorf("archived records out of order: %+v", got)
	}

	clock.Advance(time.Hour)
	if _, n, _ := a.Archive(ctx); n != 0 {
		t.Errorf("second Archive() exported %d records, want 0", n)
	}

	more := sampleRecords()[:1]
	if err := log.Append(ctx, more); err != nil {
		t.Fatal(err)
	}
	path, n, err = a.Archive(ctx)
	if err != nil || n != 1 || filepath.Base(path) != "audit-20260101-010000.json" {
		t.Errorf("third Archive() = %q, %d, %v", path, n, err)
	}
}

func TestArchiver_CSV(t *testing.T) {
	ctx := context.Background()
	log := keytest.AuditLog(t)
	if err := log.Append(ctx, sampleRecords()); err != nil {
		t.Fatal(err)
	}

	a, err := NewArchiver(log, t.TempDir(), "CSV")
	if err != nil {
		t.Fatal(err)
	}
	path, _, err := a.Archive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(path) != ".csv" {
		t.Errorf("path = %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("rows = %d, want header + 2", len(rows))
	}
}

func TestNewArchiver_Invalid(t *testing.T) {
	log := keytest.AuditLog(t)
	if _, err := NewArchiver(log, t.TempDir(), "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewArchiver(log, "", "json"); err == nil {
		t.Error("expected error for empty directory")
	}
}
