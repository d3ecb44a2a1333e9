package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/cli"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "keyweave",
	Short: "Keyweave - weighted key selection for generative AI gateways",
	Long: `Keyweave selects upstream API credentials by weight and keeps those
weights tuned.

It provides:
  - Weighted random key selection with per-key rate limits
  - Usage tracking and performance based weight recommendations
  - An append-only audit ledger of every weight change
  - Snapshots, rollback and named weight presets
  - A management API for operators`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads, overrides from the environment and validates the
// configuration file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// setupLogging installs the process logger. --verbose forces debug level.
func setupLogging(cfg config.LoggingConfig) error {
	if verbose {
		cfg.Level = "debug"
	}
	logger, err := logging.New(cfg, logging.Options{Writer: os.Stderr})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return nil
}

// outputFlag registers the shared --output flag on cmd.
func outputFlag(cmd *cobra.Command, p *string) {
	cmd.Flags().StringVarP(p, "output", "o", "text", "output format: text, json, csv")
}

func writeOutput(cmd *cobra.Command, format string, data any) error {
	f, err := cli.ParseFormat(format)
	if err != nil {
		return err
	}
	return cli.NewFormatter(f).FormatTo(cmd.OutOrStdout(), data)
}
