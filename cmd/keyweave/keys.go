package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/telemetry/logging"
	"mercator-hq/keyweave/pkg/weights"
)

var keysFlags struct {
	output string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect configured keys",
	Long: `Inspect the API keys defined in the configuration file.

Subcommands:
  list - List keys with weights, shares and limits
  env  - Print the environment variables that override credentials

Examples:
  # List keys
  keyweave keys list

  # List keys as CSV
  keyweave keys list --output csv`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured keys",
	Long:  `List configured keys. Credentials are always masked.`,
	RunE:  listKeys,
}

var keysEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Print credential environment variables",
	Long: `Print the environment variable that supplies each key's credential.
A set variable takes precedence over the credential in the file.`,
	RunE: keysEnv,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd, keysEnvCmd)

	outputFlag(keysListCmd, &keysFlags.output)
}

// KeyInfo is one row of keys list.
type KeyInfo struct {
	ID                   string  `json:"id"`
	Credential           string  `json:"credential"`
	Weight               int     `json:"weight"`
	Share                float64 `json:"share"`
	Enabled              bool    `json:"enabled"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
}

type keyTable []KeyInfo

func (t keyTable) Headers() []string {
	return []string{"ID", "CREDENTIAL", "WEIGHT", "SHARE", "ENABLED", "RPM"}
}

func (t keyTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, k := range t {
		rows[i] = []string{
			k.ID,
			k.Credential,
			strconv.Itoa(k.Weight),
			fmt.Sprintf("%.1f%%", k.Share*100),
			strconv.FormatBool(k.Enabled),
			strconv.Itoa(k.MaxRequestsPerMinute),
		}
	}
	return rows
}

func keyInfos(keys []config.KeyConfig) keyTable {
	records := weights.KeysFromConfig(keys)
	total := 0
	for _, k := range records {
		if k.Selectable() {
			total += k.Weight
		}
	}

	out := make(keyTable, len(records))
	for i, k := range records {
		var share float64
		if total > 0 && k.Selectable() {
			share = float64(k.Weight) / float64(total)
		}
		out[i] = KeyInfo{
			ID:                   k.ID,
			Credential:           logging.RedactAPIKey(k.Credential),
			Weight:               k.Weight,
			Share:                share,
			Enabled:              k.Enabled,
			MaxRequestsPerMinute: k.MaxRequestsPerMinute,
		}
	}
	return out
}

func listKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeOutput(cmd, keysFlags.output, keyInfos(cfg.Keys))
}

func keysEnv(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, k := range cfg.Keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tKEYWEAVE_KEY_%s_CREDENTIAL\n", k.ID, config.EnvKeyName(k.ID))
	}
	return nil
}
