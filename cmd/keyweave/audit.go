package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/export"
	"mercator-hq/keyweave/pkg/audit/storage"
	"mercator-hq/keyweave/pkg/cli"
	"mercator-hq/keyweave/pkg/config"
)

var auditFlags struct {
	keyID     string
	operation string
	source    string
	operator  string
	since     time.Duration
	limit     int
	offset    int
	output    string
	format    string
	file      string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the weight change audit ledger",
	Long: `Read the audit ledger configured under audit.sqlite.

Subcommands:
  query  - List matching records, newest first
  stats  - Summarize changes by type, source, operator and key
  export - Write matching records as JSON or CSV

Examples:
  # Changes to one key in the last day
  keyweave audit query --key-id primary --since 24h

  # Manual changes made through the API
  keyweave audit query --operation Manual --source API

  # Export everything as CSV
  keyweave audit export --format csv --file audit.csv`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit records",
	RunE:  queryAudit,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize audit records",
	RunE:  auditStats,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records",
	RunE:  exportAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditStatsCmd, auditExportCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		c.Flags().StringVar(&auditFlags.keyID, "key-id", "", "only records for this key")
		c.Flags().StringVar(&auditFlags.operation, "operation", "", "operation type: Manual, Intelligent, Batch, Rollback, Automatic")
		c.Flags().StringVar(&auditFlags.source, "source", "", "change source: WebUI, API, ConfigFile, Optimizer, Monitor")
		c.Flags().StringVar(&auditFlags.operator, "operator", "", "operator name substring")
	}
	for _, c := range []*cobra.Command{auditQueryCmd, auditStatsCmd, auditExportCmd} {
		c.Flags().DurationVar(&auditFlags.since, "since", 0, "only records newer than this duration (e.g. 24h)")
	}

	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", 0, "maximum records (0 uses audit.query.default_limit)")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "records to skip")
	outputFlag(auditQueryCmd, &auditFlags.output)

	auditStatsCmd.Flags().StringVarP(&auditFlags.output, "output", "o", "text", "output format: text, json")

	auditExportCmd.Flags().StringVar(&auditFlags.format, "format", "json", "export format: json, csv")
	auditExportCmd.Flags().StringVar(&auditFlags.file, "file", "", "output file (default stdout)")
}

// openAuditLog opens the configured sqlite ledger read side.
func openAuditLog(cfg *config.Config) (*audit.Log, error) {
	if cfg.Audit.Backend != "sqlite" {
		return nil, cli.NewConfigError("audit.backend", fmt.Sprintf("backend %q keeps no ledger on disk", cfg.Audit.Backend))
	}
	s, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
		Path:         cfg.Audit.SQLite.Path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		WALMode:      cfg.Audit.SQLite.WALMode,
		BusyTimeout:  cfg.Audit.SQLite.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	return audit.NewLog(s, audit.LogOptions{
		DefaultLimit: cfg.Audit.Query.DefaultLimit,
		MaxLimit:     cfg.Audit.Query.MaxLimit,
	}), nil
}

func auditQueryFromFlags(now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		KeyID:    auditFlags.keyID,
		Operator: auditFlags.operator,
		Limit:    auditFlags.limit,
		Offset:   auditFlags.offset,
	}
	if auditFlags.operation != "" {
		op, err := audit.ParseOperationType(auditFlags.operation)
		if err != nil {
			return nil, err
		}
		q.OperationType = op
	}
	if auditFlags.source != "" {
		src, err := audit.ParseSource(auditFlags.source)
		if err != nil {
			return nil, err
		}
		q.Source = src
	}
	if auditFlags.since > 0 {
		start := now.Add(-auditFlags.since)
		q.StartTime = &start
	}
	return q, nil
}

type recordTable []*audit.Record

func (t recordTable) Headers() []string {
	return []string{"ID", "TIME", "KEY", "OPERATION", "OLD", "NEW", "SOURCE", "OPERATOR", "REASON"}
}

func (t recordTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		rows[i] = []string{
			strconv.FormatInt(r.ID, 10),
			r.Timestamp.UTC().Format(time.RFC3339),
			r.TargetKeyID,
			string(r.OperationType),
			strconv.Itoa(r.OldWeight),
			strconv.Itoa(r.NewWeight),
			string(r.Source),
			r.Operator,
			r.Reason,
		}
	}
	return rows
}

func queryAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, err := auditQueryFromFlags(time.Now())
	if err != nil {
		return err
	}
	log, err := openAuditLog(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	page, err := log.Query(cmd.Context(), q)
	if err != nil {
		return err
	}

	format, err := cli.ParseFormat(auditFlags.output)
	if err != nil {
		return err
	}
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), page)
	}
	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), recordTable(page.Records)); err != nil {
		return err
	}
	if format == cli.FormatText {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d records\n", len(page.Records), page.Total)
	}
	return nil
}

func auditStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := openAuditLog(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	var since time.Time
	if auditFlags.since > 0 {
		since = time.Now().Add(-auditFlags.since)
	}
	stats, err := log.Statistics(cmd.Context(), since)
	if err != nil {
		return err
	}

	format, err := cli.ParseFormat(auditFlags.output)
	if err != nil {
		return err
	}
	if format != cli.FormatText {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total changes: %d\n", stats.TotalChanges)
	fmt.Fprintln(out, "\nBy operation:")
	for op, n := range stats.ChangesByType {
		fmt.Fprintf(out, "  %-12s %d\n", op, n)
	}
	fmt.Fprintln(out, "\nBy source:")
	for src, n := range stats.ChangesBySource {
		fmt.Fprintf(out, "  %-12s %d\n", src, n)
	}
	fmt.Fprintln(out, "\nMost changed keys:")
	for _, k := range stats.MostChangedKeys {
		fmt.Fprintf(out, "  %-12s %d\n", k.KeyID, k.ChangeCount)
	}
	return nil
}

func exportAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	exp, err := export.ForFormat(auditFlags.format)
	if err != nil {
		return err
	}
	q, err := auditQueryFromFlags(time.Now())
	if err != nil {
		return err
	}
	log, err := openAuditLog(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	return writeExport(cmd.Context(), cmd, log, q, exp)
}

func writeExport(ctx context.Context, cmd *cobra.Command, log *audit.Log, q *audit.Query, exp export.StreamExporter) error {
	records, err := log.All(ctx, q)
	if err != nil {
		return err
	}

	if auditFlags.file == "" {
		return exp.Export(ctx, records, cmd.OutOrStdout())
	}

	f, err := os.Create(auditFlags.file)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", auditFlags.file, err)
	}
	if err := exp.Export(ctx, records, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d records to %s\n", len(records), auditFlags.file)
	return nil
}
