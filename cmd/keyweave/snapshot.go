package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/cli"
	"mercator-hq/keyweave/pkg/snapshot"
)

var snapshotFlags struct {
	output string
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect stored weight snapshots",
	Long: `Read the snapshot store configured under snapshot.sqlite.

Snapshots are created and restored through the management API; this
command lists them while the server is stopped or running.

Examples:
  keyweave snapshot list
  keyweave snapshot list --output json`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE:  listSnapshots,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd)

	outputFlag(snapshotListCmd, &snapshotFlags.output)
}

type snapshotTable []snapshot.Summary

func (t snapshotTable) Headers() []string {
	return []string{"ID", "TIME", "DESCRIPTION", "CREATED BY", "AUTO", "KEYS", "TOTAL WEIGHT"}
}

func (t snapshotTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, s := range t {
		rows[i] = []string{
			s.ID,
			s.Timestamp.UTC().Format(time.RFC3339),
			s.Description,
			s.CreatedBy,
			strconv.FormatBool(s.Automatic),
			strconv.Itoa(s.KeyCount),
			strconv.Itoa(s.TotalWeight),
		}
	}
	return rows
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Snapshot.Backend != "sqlite" {
		return cli.NewConfigError("snapshot.backend", fmt.Sprintf("backend %q keeps no snapshots on disk", cfg.Snapshot.Backend))
	}

	store, err := snapshot.NewSQLiteStore(snapshot.SQLiteConfig{
		Path:        cfg.Snapshot.SQLite.Path,
		BusyTimeout: cfg.Snapshot.SQLite.BusyTimeout,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	snaps, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	summaries := make(snapshotTable, len(snaps))
	for i, s := range snaps {
		summaries[i] = s.Summary()
	}
	return writeOutput(cmd, snapshotFlags.output, summaries)
}
