package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/storage"
)

func seedAudit(t *testing.T, dir string) {
	t.Helper()
	s, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
		Path:         filepath.Join(dir, "audit.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyTimeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	log := audit.NewLog(s, audit.LogOptions{})
	defer log.Close()

	now := time.Now().UTC()
	records := []*audit.Record{
		{Timestamp: now.Add(-2 * time.Hour), Operator: "alice", OperationType: audit.OpManual, TargetKeyID: "primary", OldWeight: 50, NewWeight: 75, Reason: "more traffic", Source: audit.SourceAPI},
		{Timestamp: now.Add(-time.Hour), Operator: "optimizer", OperationType: audit.OpAutomatic, TargetKeyID: "backup", OldWeight: 50, NewWeight: 25, Reason: "rebalance", Source: audit.SourceOptimizer},
		{Timestamp: now.Add(-72 * time.Hour), Operator: "bob", OperationType: audit.OpManual, TargetKeyID: "primary", OldWeight: 40, NewWeight: 50, Reason: "initial", Source: audit.SourceWebUI},
	}
	if err := log.Append(context.Background(), records); err != nil {
		t.Fatal(err)
	}
}

func TestAuditQuery(t *testing.T) {
	path, dir := writeConfig(t, "")
	seedAudit(t, dir)

	out, err := executeCommand(t, "audit", "query", "--config", path, "--key-id", "primary", "-o", "json")
	if err != nil {
		t.Fatalf("audit query error = %v", err)
	}
	var page audit.Page
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}

	out, err = executeCommand(t, "audit", "query", "--config", path, "--since", "24h", "--source", "Optimizer")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "rebalance") || strings.Contains(out, "more traffic") {
		t.Errorf("filtered output:\n%s", out)
	}
	if !strings.Contains(out, "1 of 1 records") {
		t.Errorf("missing footer:\n%s", out)
	}

	if _, err := executeCommand(t, "audit", "query", "--config", path, "--operation", "sideways"); err == nil {
		t.Error("unknown operation accepted")
	}
}

func TestAuditStats(t *testing.T) {
	path, dir := writeConfig(t, "")
	seedAudit(t, dir)

	out, err := executeCommand(t, "audit", "stats", "--config", path, "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var stats audit.Statistics
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalChanges != 3 || stats.ChangesByType[audit.OpManual] != 2 {
		t.Errorf("stats = %+v", stats)
	}

	out, err = executeCommand(t, "audit", "stats", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Total changes: 3") {
		t.Errorf("text stats:\n%s", out)
	}
}

func TestAuditExport(t *testing.T) {
	path, dir := writeConfig(t, "")
	seedAudit(t, dir)
	file := filepath.Join(dir, "export.csv")

	if _, err := executeCommand(t, "audit", "export", "--config", path, "--format", "csv", "--file", file, "--operator", "alice"); err != nil {
		t.Fatalf("audit export error = %v", err)
	}

	f, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want header + 1", len(rows))
	}

	if _, err := executeCommand(t, "audit", "export", "--config", path, "--format", "xml"); err == nil {
		t.Error("unknown export format accepted")
	}
}

func TestAuditMemoryBackend(t *testing.T) {
	path, _ := writeConfig(t, "")
	doc, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	doc = []byte(strings.Replace(string(doc), "audit:\n  backend: sqlite", "audit:\n  backend: memory", 1))
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := executeCommand(t, "audit", "query", "--config", path); err == nil {
		t.Error("memory backend should be rejected")
	}
}
