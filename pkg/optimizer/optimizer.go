package optimizer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/usage"
)

// Config holds optimizer tunables.
type Config struct {
	// MinSamples is the sample count at which confidence reaches 1.
	MinSamples int
	// MinSamplesFloor is the sample count below which a key keeps its
	// weight with zero confidence.
	MinSamplesFloor int
	// Weights are the balanced score's component shares.
	Weights ScoreWeights
	// MaxAdjustmentPercent bounds a single weight change per run.
	MaxAdjustmentPercent float64
	// Sensitivity scales the expected improvement estimate.
	Sensitivity float64
	// MinWeight is the lowest weight a decrease produces. Keys already
	// below it are not decreased.
	MinWeight int
	// RunTimeout bounds a run. Zero means no bound.
	RunTimeout time.Duration
}

// DefaultConfig returns the default optimizer configuration.
func DefaultConfig() *Config {
	return &Config{
		MinSamples:      100,
		MinSamplesFloor: 10,
		Weights: ScoreWeights{
			ResponseTime: 0.4,
			SuccessRate:  0.4,
			Throughput:   0.2,
		},
		MaxAdjustmentPercent: 50,
		Sensitivity:          0.7,
		MinWeight:            10,
		RunTimeout:           10 * time.Second,
	}
}

// maxExpectedImprovement caps a single recommendation's estimate.
const maxExpectedImprovement = 50.0

// Recommendation is an advisory weight change for one key.
type Recommendation struct {
	KeyID               string            `json:"key_id"`
	CurrentWeight       int               `json:"current_weight"`
	RecommendedWeight   int               `json:"recommended_weight"`
	Confidence          float64           `json:"confidence"`
	Reason              string            `json:"reason"`
	ExpectedImprovement float64           `json:"expected_improvement"`
	RiskLevel           keypool.RiskLevel `json:"risk_level"`
	Score               float64           `json:"score"`
	SampleCount         int64             `json:"sample_count"`
}

// Change returns the signed weight delta.
func (r Recommendation) Change() int {
	return r.RecommendedWeight - r.CurrentWeight
}

// Result is the output of one optimizer run.
type Result struct {
	Strategy        Strategy         `json:"strategy"`
	Recommendations []Recommendation `json:"recommendations"`
	// OverallImprovement is the mean of confidence-weighted improvements.
	OverallImprovement float64 `json:"overall_improvement"`
	// Confidence is the mean recommendation confidence.
	Confidence float64 `json:"confidence_score"`
	// LoadDistributionScore is 100 for perfectly even recommended weights
	// and falls with their coefficient of variation.
	LoadDistributionScore float64   `json:"load_distribution_score"`
	ViewVersion           uint64    `json:"view_version"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// ViewSource provides the current pool view.
type ViewSource interface {
	CurrentView() *keypool.View
}

// StatsSource provides per-key usage statistics.
type StatsSource interface {
	AllStats() map[string]usage.Stats
}

// Optimizer produces weight recommendations. It never mutates the pool.
// One run is in flight at a time.
type Optimizer struct {
	pool     ViewSource
	stats    StatsSource
	registry *Registry
	now      func() time.Time

	config atomic.Pointer[Config]

	busy atomic.Bool
	runs atomic.Int64

	logger *slog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithRegistry resolves strategies from r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(o *Optimizer) { o.registry = r }
}

// WithClock replaces the time source used for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// New creates an optimizer. A nil config uses DefaultConfig.
func New(pool ViewSource, stats StatsSource, config *Config, opts ...Option) *Optimizer {
	if config == nil {
		config = DefaultConfig()
	}
	o := &Optimizer{
		pool:     pool,
		stats:    stats,
		registry: defaultRegistry,
		now:      time.Now,
		logger:   slog.Default().With("component", "optimizer"),
	}
	o.config.Store(config)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetConfig replaces the tunables used by later runs. A nil config restores
// the defaults.
func (o *Optimizer) SetConfig(config *Config) {
	if config == nil {
		config = DefaultConfig()
	}
	o.config.Store(config)
}

// Config returns the tunables in effect.
func (o *Optimizer) Config() Config {
	return *o.config.Load()
}

// Registry returns the strategy table the optimizer resolves names against.
func (o *Optimizer) Registry() *Registry {
	return o.registry
}

// Runs returns the number of completed runs.
func (o *Optimizer) Runs() int64 {
	return o.runs.Load()
}

// Recommend runs strategy against the current view and statistics. It
// returns ErrOptimizerBusy while another run is in flight.
func (o *Optimizer) Recommend(ctx context.Context, strategy string) (*Result, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrOptimizerBusy
	}
	defer o.busy.Store(false)

	def, err := o.registry.Lookup(strategy)
	if err != nil {
		return nil, err
	}

	cfg := o.config.Load()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	view := o.pool.CurrentView()
	stats := o.stats.AllStats()

	recs, err := Compute(ctx, def, view, stats, cfg)
	if err != nil {
		return nil, fmt.Errorf("optimizer run %q abandoned: %w", def.Name, err)
	}

	result := summarize(def.Name, recs)
	result.ViewVersion = view.Version
	result.GeneratedAt = o.now()
	o.runs.Add(1)

	o.logger.Info("optimizer run completed",
		"strategy", def.Name,
		"recommendations", len(recs),
		"overall_improvement", result.OverallImprovement,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Compute scores every enabled key in view and returns recommendations
// ordered by absolute change, largest first, then by key id. It depends
// only on its arguments.
func Compute(ctx context.Context, def Definition, view *keypool.View, stats map[string]usage.Stats, cfg *Config) ([]Recommendation, error) {
	type scored struct {
		key     keypool.KeyRecord
		stats   usage.Stats
		score   float64
		sampled bool
	}

	var (
		entries    []scored
		totalW     int
		totalScore float64
	)
	for _, k := range view.Keys {
		if !k.Enabled {
			continue
		}
		st := stats[k.ID]
		e := scored{key: k, stats: st}
		if k.Weight > 0 && st.SampleCount >= int64(cfg.MinSamplesFloor) {
			e.sampled = true
			e.score = math.Max(0, def.Score(metricsFor(k, st), cfg.Weights))
			totalW += k.Weight
			totalScore += e.score
		}
		entries = append(entries, e)
	}

	step := cfg.MaxAdjustmentPercent
	if def.StepPercent > 0 {
		step = def.StepPercent
	}

	recs := make([]Recommendation, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := e.key.Weight
		rec := Recommendation{
			KeyID:             e.key.ID,
			CurrentWeight:     cur,
			RecommendedWeight: cur,
			RiskLevel:         keypool.RiskLow,
			Score:             e.score,
			SampleCount:       e.stats.SampleCount,
		}

		if !e.sampled {
			rec.Reason = holdReason(e.key, e.stats, cfg)
			recs = append(recs, rec)
			continue
		}

		target := cur
		if totalScore > 0 {
			target = int(math.Round(float64(totalW) * e.score / totalScore))
		}
		next := clampStep(cur, target, step, cfg.MinWeight)

		rec.RecommendedWeight = next
		rec.Confidence = confidence(e.stats.SampleCount, cfg.MinSamples)
		rec.ExpectedImprovement = expectedImprovement(cur, next, cfg.Sensitivity)
		rec.RiskLevel = keypool.AssessRisk(cur, next)
		rec.Reason = changeReason(def.Name, e.stats, cur, next)
		recs = append(recs, rec)
	}

	slices.SortStableFunc(recs, func(a, b Recommendation) int {
		if c := cmp.Compare(abs(b.Change()), abs(a.Change())); c != 0 {
			return c
		}
		return strings.Compare(a.KeyID, b.KeyID)
	})
	return recs, nil
}

func metricsFor(k keypool.KeyRecord, st usage.Stats) Metrics {
	return Metrics{
		KeyID:                k.ID,
		Weight:               k.Weight,
		MaxRequestsPerMinute: k.MaxRequestsPerMinute,
		SampleCount:          st.SampleCount,
		SuccessRate:          st.SuccessRate(),
		AvgLatency:           st.AvgLatency(),
		Throughput:           st.Throughput(),
	}
}

// clampStep moves cur toward target by at most step percent of cur. A
// decrease never goes below min(minWeight, cur).
func clampStep(cur, target int, step float64, minWeight int) int {
	maxChange := int(float64(cur) * step / 100)
	if target >= cur {
		return min(cur+maxChange, target)
	}
	next := max(cur-maxChange, target)
	return max(next, min(minWeight, cur))
}

func confidence(samples int64, minSamples int) float64 {
	if minSamples <= 0 {
		return 1
	}
	return math.Min(1, float64(samples)/float64(minSamples))
}

func expectedImprovement(cur, next int, sensitivity float64) float64 {
	if cur == next || cur == 0 {
		return 0
	}
	ratio := float64(next) / float64(cur)
	return math.Min(math.Abs(ratio-1)*100*sensitivity, maxExpectedImprovement)
}

func holdReason(k keypool.KeyRecord, st usage.Stats, cfg *Config) string {
	if k.Weight == 0 {
		return "weight is zero, key receives no traffic to measure"
	}
	return fmt.Sprintf("insufficient samples (%d < %d), keeping weight %d", st.SampleCount, cfg.MinSamplesFloor, k.Weight)
}

func changeReason(s Strategy, st usage.Stats, cur, next int) string {
	if cur == next {
		return fmt.Sprintf("%s: keep weight %d", s, cur)
	}
	direction := "increase"
	if next < cur {
		direction = "decrease"
	}
	pct := math.Round(keypool.ChangePercent(cur, next))
	return fmt.Sprintf("%s: %s weight %.0f%% (%d -> %d); success rate %.1f%%, avg latency %s",
		s, direction, pct, cur, next, st.SuccessRate()*100, st.AvgLatency().Round(time.Millisecond))
}

func summarize(s Strategy, recs []Recommendation) *Result {
	r := &Result{Strategy: s, Recommendations: recs, LoadDistributionScore: 100}
	if len(recs) == 0 {
		return r
	}

	var improvement, conf, sum float64
	for _, rec := range recs {
		improvement += rec.ExpectedImprovement * rec.Confidence
		conf += rec.Confidence
		sum += float64(rec.RecommendedWeight)
	}
	n := float64(len(recs))
	r.OverallImprovement = improvement / n
	r.Confidence = conf / n

	if mean := sum / n; len(recs) > 1 && mean > 0 {
		var variance float64
		for _, rec := range recs {
			d := float64(rec.RecommendedWeight) - mean
			variance += d * d
		}
		cv := math.Sqrt(variance/n) / mean
		r.LoadDistributionScore = 100 - math.Min(cv*100, 100)
	}
	return r
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
