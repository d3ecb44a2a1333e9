package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/keyweave/internal/keytest"
	"mercator-hq/keyweave/pkg/snapshot"
)

func TestSnapshotList(t *testing.T) {
	path, dir := writeConfig(t, "")

	store, err := snapshot.NewSQLiteStore(snapshot.SQLiteConfig{
		Path:        filepath.Join(dir, "snapshots.db"),
		BusyTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	pool, _ := keytest.Pool(t, keytest.Key("primary", 75, 60), keytest.Key("backup", 25, 60))
	mgr := snapshot.NewManager(store, pool)
	if _, err := mgr.Capture(context.Background(), "before launch", "alice"); err != nil {
		t.Fatal(err)
	}
	mgr.Close()

	out, err := executeCommand(t, "snapshot", "list", "--config", path)
	if err != nil {
		t.Fatalf("snapshot list error = %v", err)
	}
	if !strings.Contains(out, "before launch") || !strings.Contains(out, "alice") {
		t.Errorf("output:\n%s", out)
	}

	out, err = executeCommand(t, "snapshot", "list", "--config", path, "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var got []snapshot.Summary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].KeyCount != 2 || got[0].TotalWeight != 100 {
		t.Errorf("summaries = %+v", got)
	}
}

func TestStrategies(t *testing.T) {
	out, err := executeCommand(t, "strategies")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"balanced", "conservative"} {
		if !strings.Contains(out, name) {
			t.Errorf("output missing %s:\n%s", name, out)
		}
	}
}
