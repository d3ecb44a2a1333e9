package optimizer

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Strategy names an optimization objective.
type Strategy string

const (
	Balanced            Strategy = "balanced"
	MaximizeSuccessRate Strategy = "maximize-success-rate"
	MinimizeLatency     Strategy = "minimize-latency"
	MaximizeThroughput  Strategy = "maximize-throughput"
	EqualizeUtilization Strategy = "equalize-utilization"
	Conservative        Strategy = "conservative"
	Aggressive          Strategy = "aggressive"
)

// Metrics is the per-key input to a scoring function.
type Metrics struct {
	KeyID                string
	Weight               int
	MaxRequestsPerMinute int
	SampleCount          int64
	SuccessRate          float64
	AvgLatency           time.Duration

	// Throughput is samples per minute over the usage window.
	Throughput float64
}

// ScoreWeights are the component shares of the balanced score.
type ScoreWeights struct {
	ResponseTime float64
	SuccessRate  float64
	Throughput   float64
}

// ScoreFunc rates a key. Target weights are proportional to the score.
// Scores must be non-negative and depend only on their inputs.
type ScoreFunc func(m Metrics, w ScoreWeights) float64

// Definition is a registered strategy. A positive StepPercent overrides
// the configured per-run adjustment bound.
type Definition struct {
	Name        Strategy  `json:"name"`
	Description string    `json:"description"`
	Score       ScoreFunc `json:"-"`
	StepPercent float64   `json:"step_percent,omitempty"`
}

// responseTimeScore maps latency into (0, 1]; one second scores 0.5.
func responseTimeScore(m Metrics) float64 {
	return 1 / (1 + float64(m.AvgLatency)/float64(time.Second))
}

// throughputScore maps throughput into [0, 1], saturating at 100 per minute.
func throughputScore(m Metrics) float64 {
	return min(m.Throughput, 100) / 100
}

func balancedScore(m Metrics, w ScoreWeights) float64 {
	return w.ResponseTime*responseTimeScore(m) +
		w.SuccessRate*m.SuccessRate +
		w.Throughput*throughputScore(m)
}

var builtins = []Definition{
	{
		Name:        Balanced,
		Description: "weighted blend of response time, success rate and throughput",
		Score:       balancedScore,
	},
	{
		Name:        MaximizeSuccessRate,
		Description: "success rate discounted by latency in seconds",
		Score: func(m Metrics, _ ScoreWeights) float64 {
			return m.SuccessRate / (1 + m.AvgLatency.Seconds())
		},
	},
	{
		Name:        MinimizeLatency,
		Description: "favors fast keys, with success rate as a tiebreaker",
		Score: func(m Metrics, _ ScoreWeights) float64 {
			return 0.8*responseTimeScore(m) + 0.2*m.SuccessRate
		},
	},
	{
		Name:        MaximizeThroughput,
		Description: "favors keys that complete the most calls",
		Score: func(m Metrics, _ ScoreWeights) float64 {
			return 0.6*throughputScore(m) + 0.4*m.SuccessRate
		},
	},
	{
		Name:        EqualizeUtilization,
		Description: "weights proportional to each key's rate budget",
		Score: func(m Metrics, _ ScoreWeights) float64 {
			return float64(m.MaxRequestsPerMinute)
		},
	},
	{
		Name:        Conservative,
		Description: "balanced score with small steps",
		Score:       balancedScore,
		StepPercent: 5,
	},
	{
		Name:        Aggressive,
		Description: "balanced score with large steps",
		Score:       balancedScore,
		StepPercent: 80,
	},
}

// Registry is a table of strategies by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[Strategy]Definition
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[Strategy]Definition, len(builtins))}
	for _, d := range builtins {
		r.defs[d.Name] = d
	}
	return r
}

// Register adds a strategy. Names are unique.
func (r *Registry) Register(d Definition) error {
	if d.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if d.Score == nil {
		return fmt.Errorf("strategy %q has no score function", d.Name)
	}
	if d.StepPercent < 0 || d.StepPercent > 100 {
		return fmt.Errorf("strategy %q step percent must be in [0, 100]", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.Name]; ok {
		return fmt.Errorf("strategy %q already registered", d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// Lookup resolves a strategy by name, ignoring case and surrounding space.
func (r *Registry) Lookup(name string) (Definition, error) {
	key := Strategy(strings.ToLower(strings.TrimSpace(name)))

	r.mu.RLock()
	d, ok := r.defs[key]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, &UnknownStrategyError{Name: name, Known: r.names()}
	}
	return d, nil
}

// Strategies returns every registered strategy sorted by name.
func (r *Registry) Strategies() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Definition) int { return strings.Compare(string(a.Name), string(b.Name)) })
	return out
}

func (r *Registry) names() []Strategy {
	defs := r.Strategies()
	names := make([]Strategy, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

var defaultRegistry = NewRegistry()

// Register adds a strategy to the default registry.
func Register(d Definition) error { return defaultRegistry.Register(d) }

// Lookup resolves a strategy in the default registry.
func Lookup(name string) (Definition, error) { return defaultRegistry.Lookup(name) }

// Strategies lists the default registry.
func Strategies() []Definition { return defaultRegistry.Strategies() }
