package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/cli"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/optimizer"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration file with environment overrides applied and
report every problem found.

On top of the field checks, the default optimizer strategy must name a
registered strategy.

Examples:
  # Validate the default config.yaml
  keyweave validate

  # Validate a specific file
  keyweave validate --config /etc/keyweave/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "✗ %s: %s\n", fe.Field, fe.Message)
			}
			return cli.NewConfigError("", fmt.Sprintf("%d validation errors in %s", len(verr.Errors), cfgFile))
		}
		return cli.NewConfigError("", err.Error())
	}

	if _, err := optimizer.Lookup(cfg.Optimizer.DefaultStrategy); err != nil {
		fmt.Fprintf(out, "✗ optimizer.default_strategy: %v\n", err)
		return cli.NewConfigError("optimizer.default_strategy", err.Error())
	}

	enabled := 0
	total := 0
	for _, k := range cfg.Keys {
		if k.IsEnabled() {
			enabled++
			total += k.EffectiveWeight()
		}
	}

	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
	fmt.Fprintf(out, "  Keys: %d (%d enabled, total weight %d)\n", len(cfg.Keys), enabled, total)
	fmt.Fprintf(out, "  Rate limiting: %s, window %s\n", cfg.RateLimit.Backend, cfg.RateLimit.Window)
	fmt.Fprintf(out, "  Default strategy: %s\n", cfg.Optimizer.DefaultStrategy)
	fmt.Fprintf(out, "  Audit: %s, snapshots: %s\n", cfg.Audit.Backend, cfg.Snapshot.Backend)
	return nil
}
