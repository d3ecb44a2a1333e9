package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/internal/app"
	"mercator-hq/keyweave/pkg/cli"
	"mercator-hq/keyweave/pkg/config"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the keyweave management server",
	Long: `Start keyweave with the specified configuration.

The key pool, audit ledger, snapshot store and scheduled jobs are built from
the configuration and the management API listens on the configured address.

Examples:
  # Start with default config
  keyweave run

  # Start with custom config
  keyweave run --config /etc/keyweave/config.yaml

  # Override listen address
  keyweave run --listen 0.0.0.0:8080

  # Validate config without starting server
  keyweave run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	if err := setupLogging(cfg.Telemetry.Logging); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{
		ConfigPath: cfgFile,
		Version:    Version,
		Commit:     GitCommit,
		BuildTime:  BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	fmt.Fprintf(out, "✓ Key pool initialized (%d keys, %d enabled)\n",
		a.Pool.CurrentView().Len(), a.Pool.CurrentView().EnabledCount())
	fmt.Fprintf(out, "✓ Audit ledger ready (%s)\n", cfg.Audit.Backend)
	fmt.Fprintf(out, "✓ Snapshot store ready (%s)\n", cfg.Snapshot.Backend)
	for _, e := range a.Scheduler.Entries() {
		fmt.Fprintf(out, "✓ Job %s scheduled (%s)\n", e.Name, e.Schedule)
	}
	fmt.Fprintf(out, "✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := a.Run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Keyweave v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("rate limiting", "backend", cfg.RateLimit.Backend, "window", cfg.RateLimit.Window)
	slog.Debug("optimizer", "default_strategy", cfg.Optimizer.DefaultStrategy, "schedule", cfg.Optimizer.Schedule)
	if cfg.Watch.Enabled {
		slog.Debug("config watch enabled", "debounce", cfg.Watch.Debounce)
	}
}
