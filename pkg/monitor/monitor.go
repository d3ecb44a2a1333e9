package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/usage"
)

// MetaConsecutiveFailures records the failure count that triggered a
// disable.
const MetaConsecutiveFailures = "consecutive_failures"

// DefaultThreshold is the failure count used when none is configured.
const DefaultThreshold = 5

// Pool is the part of the key pool the monitor needs.
type Pool interface {
	CurrentView() *keypool.View
	ApplyMutation(ctx context.Context, changes []keypool.Change, m keypool.Mutation) ([]*audit.Record, error)
}

// StatsSource provides usage statistics. *usage.Recorder implements it.
type StatsSource interface {
	AllStats() map[string]usage.Stats
}

// Monitor disables keys whose consecutive failures reach a threshold. It
// never re-enables a key; that is left to an operator.
type Monitor struct {
	pool      Pool
	stats     StatsSource
	threshold int
	logger    *slog.Logger
}

// New creates a monitor. A threshold below 1 uses DefaultThreshold.
func New(pool Pool, stats StatsSource, threshold int) *Monitor {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Monitor{
		pool:      pool,
		stats:     stats,
		threshold: threshold,
		logger:    slog.Default().With("component", "monitor"),
	}
}

// Threshold returns the consecutive failure count that disables a key.
func (m *Monitor) Threshold() int { return m.threshold }

// Sweep disables every enabled key at or over the threshold, one Automatic
// mutation per key, and returns the records written.
func (m *Monitor) Sweep(ctx context.Context) ([]*audit.Record, error) {
	view := m.pool.CurrentView()
	all := m.stats.AllStats()

	var failing []keypool.KeyRecord
	for _, k := range view.Keys {
		if !k.Enabled {
			continue
		}
		if all[k.ID].ConsecutiveFailures >= m.threshold {
			failing = append(failing, k)
		}
	}
	if len(failing) == 0 {
		return []*audit.Record{}, nil
	}

	var records []*audit.Record
	for _, k := range failing {
		n := all[k.ID].ConsecutiveFailures
		recs, err := m.pool.ApplyMutation(ctx, []keypool.Change{keypool.SetEnabled(k.ID, false)}, keypool.Mutation{
			Operator:  "monitor",
			Source:    audit.SourceMonitor,
			Operation: audit.OpAutomatic,
			Reason:    fmt.Sprintf("disabled after %d consecutive failures", n),
			Metadata:  map[string]string{MetaConsecutiveFailures: strconv.Itoa(n)},
		})
		if err != nil {
			return records, fmt.Errorf("failed to disable key %s: %w", k.ID, err)
		}
		records = append(records, recs...)

		m.logger.Warn("key disabled after consecutive failures",
			"key_id", k.ID,
			"consecutive_failures", n,
			"threshold", m.threshold,
		)
	}
	return records, nil
}

// Run is Sweep shaped as a scheduler job.
func (m *Monitor) Run(ctx context.Context) error {
	_, err := m.Sweep(ctx)
	return err
}
