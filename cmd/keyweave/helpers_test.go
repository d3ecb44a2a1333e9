package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

const testConfigTemplate = `
keys:
  - id: primary
    credential: sk-live-0123456789abcdef
    weight: 75
    max_requests_per_minute: 60
  - id: backup
    credential: sk-live-fedcba9876543210
    weight: 25
    max_requests_per_minute: 60
audit:
  backend: sqlite
  sqlite:
    path: {{dir}}/audit.db
snapshot:
  backend: sqlite
  sqlite:
    path: {{dir}}/snapshots.db
telemetry:
  logging:
    level: error
`

// writeConfig writes a config file into a temp dir and returns its path
// and the directory. extra is appended to the document.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	doc := strings.ReplaceAll(testConfigTemplate, "{{dir}}", dir) + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, dir
}
