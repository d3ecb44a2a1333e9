package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/keyweave/pkg/optimizer"
)

var strategiesFlags struct {
	output string
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List optimization strategies",
	Long: `List the strategies the optimizer can use to recommend weights.
The name is accepted by optimizer.default_strategy and by the strategy
parameter of the optimize and rebalance API routes.`,
	RunE: listStrategies,
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
	outputFlag(strategiesCmd, &strategiesFlags.output)
}

type strategyTable []optimizer.Definition

func (t strategyTable) Headers() []string { return []string{"NAME", "STEP", "DESCRIPTION"} }

func (t strategyTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, d := range t {
		step := "-"
		if d.StepPercent > 0 {
			step = fmt.Sprintf("%.0f%%", d.StepPercent)
		}
		rows[i] = []string{string(d.Name), step, d.Description}
	}
	return rows
}

func listStrategies(cmd *cobra.Command, args []string) error {
	return writeOutput(cmd, strategiesFlags.output, strategyTable(optimizer.Strategies()))
}
