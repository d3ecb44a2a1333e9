package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/storage"
	"mercator-hq/keyweave/pkg/cli"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/ratelimit"
	"mercator-hq/keyweave/pkg/selector"
	"mercator-hq/keyweave/pkg/usage"
	"mercator-hq/keyweave/pkg/weights"
)

var simulateFlags struct {
	requests      int64
	seed          uint64
	respectLimits bool
	output        string
	quiet         bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate key selection over the configured weights",
	Long: `Run a number of selections against the configured keys and compare the
observed traffic split with the weight shares.

Nothing is sent upstream and nothing is written to the audit ledger. By
default rate limits are ignored so that the split reflects weights alone;
--respect-limits applies the configured per-minute limits as if every
selection happened within one window.

Examples:
  keyweave simulate --requests 10000
  keyweave simulate --requests 500 --respect-limits --seed 42`,
	RunE: simulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Int64VarP(&simulateFlags.requests, "requests", "n", 10000, "number of selections")
	simulateCmd.Flags().Uint64Var(&simulateFlags.seed, "seed", 0, "random seed (0 picks one)")
	simulateCmd.Flags().BoolVar(&simulateFlags.respectLimits, "respect-limits", false, "apply per-key rate limits")
	simulateCmd.Flags().BoolVarP(&simulateFlags.quiet, "quiet", "q", false, "hide the progress bar")
	outputFlag(simulateCmd, &simulateFlags.output)
}

// SimulationRow compares one key's expected and observed share.
type SimulationRow struct {
	KeyID    string  `json:"key_id"`
	Weight   int     `json:"weight"`
	Expected float64 `json:"expected_share"`
	Observed float64 `json:"observed_share"`
	Selected int64   `json:"selected"`
}

// SimulationResult is the outcome of a simulation run.
type SimulationResult struct {
	Requests  int64           `json:"requests"`
	Exhausted int64           `json:"exhausted"`
	Keys      []SimulationRow `json:"keys"`
}

func (r *SimulationResult) Headers() []string {
	return []string{"KEY", "WEIGHT", "EXPECTED", "OBSERVED", "SELECTED"}
}

func (r *SimulationResult) Rows() [][]string {
	rows := make([][]string, 0, len(r.Keys)+1)
	for _, k := range r.Keys {
		rows = append(rows, []string{
			k.KeyID,
			strconv.Itoa(k.Weight),
			fmt.Sprintf("%.2f%%", k.Expected*100),
			fmt.Sprintf("%.2f%%", k.Observed*100),
			strconv.FormatInt(k.Selected, 10),
		})
	}
	if r.Exhausted > 0 {
		rows = append(rows, []string{"(exhausted)", "-", "-", "-", strconv.FormatInt(r.Exhausted, 10)})
	}
	return rows
}

// runSimulation performs n selections over keys. Progress, when non-nil,
// is updated as selections complete.
func runSimulation(ctx context.Context, keys []keypool.KeyRecord, n int64, seed uint64, respectLimits bool, progress cli.ProgressReporter) (*SimulationResult, error) {
	pool, err := keypool.New(keys, audit.NewLog(storage.NewMemoryStorage(), audit.LogOptions{}))
	if err != nil {
		return nil, err
	}
	view := pool.CurrentView()

	limits := view.Limits()
	if !respectLimits {
		for id := range limits {
			limits[id] = int(min(n, 1<<31-1))
		}
	}
	limiter := ratelimit.NewLimiter(0, limits)

	opts := []selector.Option{}
	if seed != 0 {
		opts = append(opts, selector.WithSeed(seed))
	}
	sel := selector.New(pool, limiter, opts...)

	counts := make(map[string]int64, view.Len())
	res := &SimulationResult{Requests: n}
	if progress != nil {
		progress.Start(n)
	}
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := sel.Select(ctx)
		switch {
		case errors.Is(err, selector.ErrAllKeysExhausted):
			res.Exhausted++
		case err != nil:
			if progress != nil {
				progress.Error(err)
			}
			return nil, err
		default:
			counts[s.KeyID]++
			s.Done(usage.Success, 0)
		}
		if progress != nil && (i+1)%100 == 0 {
			progress.Update(i + 1)
		}
	}
	if progress != nil {
		progress.Finish()
	}

	shares := view.Shares()
	for _, k := range view.Keys {
		row := SimulationRow{
			KeyID:    k.ID,
			Weight:   k.Weight,
			Expected: shares[k.ID],
			Selected: counts[k.ID],
		}
		if n > 0 {
			row.Observed = float64(counts[k.ID]) / float64(n)
		}
		res.Keys = append(res.Keys, row)
	}
	return res, nil
}

func simulate(cmd *cobra.Command, args []string) error {
	if simulateFlags.requests <= 0 {
		return fmt.Errorf("--requests must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Telemetry.Logging); err != nil {
		return err
	}

	seed := simulateFlags.seed
	if seed == 0 {
		seed = cfg.Selector.Seed
	}

	var progress cli.ProgressReporter
	if !simulateFlags.quiet {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "Selecting")
	}

	res, err := runSimulation(cmd.Context(), weights.KeysFromConfig(cfg.Keys), simulateFlags.requests, seed, simulateFlags.respectLimits, progress)
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}
	return writeOutput(cmd, simulateFlags.output, res)
}
