package weights

import (
	"context"
	"fmt"
	"math"
	"time"

	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/ratelimit"
	"mercator-hq/keyweave/pkg/usage"
)

// Thresholds used by Analyze and Health.
const (
	maxSingleKeyShare  = 0.7
	varianceThreshold  = 0.5
	failurePenaltyUnit = 2.0
)

// KeyStats is one key's entry in a StatsReport.
type KeyStats struct {
	KeyID                string           `json:"key_id"`
	Weight               int              `json:"weight"`
	Enabled              bool             `json:"enabled"`
	Percentage           float64          `json:"percentage"`
	MaxRequestsPerMinute int              `json:"max_requests_per_minute"`
	RateLimit            *ratelimit.Usage `json:"rate_limit,omitempty"`
	Usage                usage.Stats      `json:"usage"`
	SuccessRate          float64          `json:"success_rate"`
	AvgLatencyMs         float64          `json:"avg_latency_ms"`
}

// StatsReport summarizes the pool and its usage.
type StatsReport struct {
	ViewVersion   uint64     `json:"view_version"`
	TotalWeight   int        `json:"total_weight"`
	ActiveKeys    int        `json:"active_keys_count"`
	TotalKeys     int        `json:"total_keys_count"`
	Keys          []KeyStats `json:"distributions"`
	Effectiveness float64    `json:"load_balance_effectiveness"`
	UsageWindow   string     `json:"usage_window,omitempty"`
	GeneratedAt   time.Time  `json:"generated_at"`
}

// Stats reports per-key weight, share, rate budget and usage.
func (s *Service) Stats(_ context.Context) *StatsReport {
	view := s.pool.CurrentView()
	shares := view.Shares()

	var all map[string]usage.Stats
	if s.usage != nil {
		all = s.usage.AllStats()
	}
	local, _ := s.limiter.(ratelimit.Local)

	report := &StatsReport{
		ViewVersion: view.Version,
		TotalWeight: view.TotalWeight(),
		ActiveKeys:  view.EnabledCount(),
		TotalKeys:   view.Len(),
		Keys:        make([]KeyStats, 0, view.Len()),
		GeneratedAt: s.now().UTC(),
	}
	for _, k := range view.Keys {
		st := all[k.ID]
		st.KeyID = k.ID
		ks := KeyStats{
			KeyID:                k.ID,
			Weight:               k.Weight,
			Enabled:              k.Enabled,
			Percentage:           shares[k.ID] * 100,
			MaxRequestsPerMinute: k.MaxRequestsPerMinute,
			Usage:                st,
			SuccessRate:          st.SuccessRate(),
			AvgLatencyMs:         float64(st.AvgLatency()) / float64(time.Millisecond),
		}
		if local != nil {
			if u, ok := local.Usage(k.ID); ok {
				ks.RateLimit = &u
			}
		}
		report.Keys = append(report.Keys, ks)
		if report.UsageWindow == "" && st.Window > 0 {
			report.UsageWindow = st.Window.String()
		}
	}
	report.Effectiveness = effectiveness(report.Keys)
	return report
}

// effectiveness scores how evenly traffic spreads over active keys, from 0
// to 100, less a penalty per consecutive failure.
func effectiveness(keys []KeyStats) float64 {
	var pcts []float64
	penalty := 0.0
	for _, k := range keys {
		if !k.Enabled || k.Weight <= 0 {
			continue
		}
		pcts = append(pcts, k.Percentage)
		penalty += float64(k.Usage.ConsecutiveFailures) * failurePenaltyUnit
	}
	switch len(pcts) {
	case 0:
		return 0
	case 1:
		return 50
	}
	_, sd := meanStdDev(pcts)
	score := 100 - math.Min(sd, 50) - penalty
	return math.Max(0, math.Min(100, score))
}

// Distribution is the normalized share of each selectable key.
type Distribution struct {
	ViewVersion uint64             `json:"view_version"`
	TotalWeight int                `json:"total_weight"`
	Shares      map[string]float64 `json:"shares"`
}

// Distribution returns each selectable key's share of traffic.
func (s *Service) Distribution(_ context.Context) *Distribution {
	view := s.pool.CurrentView()
	return &Distribution{
		ViewVersion: view.Version,
		TotalWeight: view.TotalWeight(),
		Shares:      view.Shares(),
	}
}

// RiskFactor is one finding of Analyze.
type RiskFactor struct {
	Type         string            `json:"factor_type"`
	Description  string            `json:"description"`
	Severity     keypool.RiskLevel `json:"severity"`
	AffectedKeys []string          `json:"affected_keys"`
}

// RiskAssessment aggregates risk factors.
type RiskAssessment struct {
	Overall     keypool.RiskLevel `json:"overall_risk"`
	Factors     []RiskFactor      `json:"risk_factors"`
	Mitigations []string          `json:"mitigation_suggestions"`
}

// Analysis describes the shape of the weight table.
type Analysis struct {
	ViewVersion         uint64         `json:"view_version"`
	BalanceScore        float64        `json:"load_balance_score"`
	VarianceCoefficient float64        `json:"variance_coefficient"`
	EfficiencyScore     float64        `json:"efficiency_score"`
	Risk                RiskAssessment `json:"risk_assessment"`
}

// Analyze scores the balance of enabled keys' weights and lists risks.
func (s *Service) Analyze(_ context.Context) *Analysis {
	return analyze(s.pool.CurrentView())
}

func analyze(view *keypool.View) *Analysis {
	a := &Analysis{ViewVersion: view.Version}
	if view.Len() == 0 {
		a.Risk = RiskAssessment{
			Overall: keypool.RiskHigh,
			Factors: []RiskFactor{{
				Type:         "NoKeys",
				Description:  "the pool has no keys",
				Severity:     keypool.RiskHigh,
				AffectedKeys: []string{},
			}},
			Mitigations: []string{"configure at least one key"},
		}
		return a
	}

	var weights []float64
	total := 0
	for _, k := range view.Keys {
		if k.Enabled {
			weights = append(weights, float64(k.Weight))
			total += k.Weight
		}
	}
	if len(weights) > 0 {
		if mean, sd := meanStdDev(weights); mean > 0 {
			a.VarianceCoefficient = sd / mean
			a.BalanceScore = 100 * (1 - math.Min(a.VarianceCoefficient, 1))
		}
	}
	a.EfficiencyScore = float64(view.EnabledCount()) / float64(view.Len()) * 100
	a.Risk = assessRisks(view, total)
	return a
}

func assessRisks(view *keypool.View, total int) RiskAssessment {
	ra := RiskAssessment{Overall: keypool.RiskLow, Factors: []RiskFactor{}, Mitigations: []string{}}
	add := func(f RiskFactor, mitigation string) {
		ra.Factors = append(ra.Factors, f)
		ra.Mitigations = append(ra.Mitigations, mitigation)
		if f.Severity.Rank() > ra.Overall.Rank() {
			ra.Overall = f.Severity
		}
	}

	if view.EnabledCount() == 0 {
		add(RiskFactor{
			Type:         "NoEnabledKeys",
			Description:  "no key is enabled",
			Severity:     keypool.RiskHigh,
			AffectedKeys: view.IDs(),
		}, "enable at least one key")
	}

	if total > 0 {
		maxWeight := 0
		for _, k := range view.Keys {
			if k.Enabled && k.Weight > maxWeight {
				maxWeight = k.Weight
			}
		}
		if float64(maxWeight)/float64(total) > maxSingleKeyShare {
			var affected []string
			for _, k := range view.Keys {
				if k.Enabled && k.Weight == maxWeight {
					affected = append(affected, k.ID)
				}
			}
			add(RiskFactor{
				Type:         "SinglePointFailure",
				Description:  fmt.Sprintf("one key carries more than %.0f%% of the weight", maxSingleKeyShare*100),
				Severity:     keypool.RiskHigh,
				AffectedKeys: affected,
			}, "spread weight over more keys")
		}
	}

	var zero, disabled []string
	for _, k := range view.Keys {
		switch {
		case !k.Enabled:
			disabled = append(disabled, k.ID)
		case k.Weight == 0:
			zero = append(zero, k.ID)
		}
	}
	if len(zero) > 0 {
		add(RiskFactor{
			Type:         "ZeroWeight",
			Description:  fmt.Sprintf("%d enabled keys have weight 0 and receive no traffic", len(zero)),
			Severity:     keypool.RiskMedium,
			AffectedKeys: zero,
		}, "give enabled keys a positive weight or disable them")
	}
	if len(disabled) > 0 && view.EnabledCount() > 0 {
		add(RiskFactor{
			Type:         "DisabledKeys",
			Description:  fmt.Sprintf("%d keys are disabled", len(disabled)),
			Severity:     keypool.RiskMedium,
			AffectedKeys: disabled,
		}, "check disabled keys and re-enable them when healthy")
	}
	return ra
}

// HealthStatus is the result of a pool health check.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusDegraded HealthStatus = "degraded"
)

// HealthReport explains a pool health check.
type HealthReport struct {
	Status       HealthStatus `json:"status"`
	Issues       []string     `json:"issues"`
	Warnings     []string     `json:"warnings"`
	EnabledKeys  int          `json:"enabled_keys"`
	EligibleKeys int          `json:"eligible_keys"`
	Available    int          `json:"available_keys"`
	Score        float64      `json:"score"`
}

// Health checks that requests can be served. It is degraded when no key is
// selectable or every selectable key has spent its rate budget; it warns
// about single-key dependence and uneven weights.
func (s *Service) Health(_ context.Context) *HealthReport {
	view := s.pool.CurrentView()
	eligible := view.Eligible()
	r := &HealthReport{
		Status:       StatusHealthy,
		Issues:       []string{},
		Warnings:     []string{},
		EnabledKeys:  view.EnabledCount(),
		EligibleKeys: len(eligible),
		Available:    len(eligible),
	}

	if local, ok := s.limiter.(ratelimit.Local); ok {
		r.Available = 0
		for _, k := range eligible {
			if u, ok := local.Usage(k.ID); ok && u.Remaining > 0 {
				r.Available++
			}
		}
	}

	switch {
	case r.EnabledKeys == 0:
		r.Issues = append(r.Issues, "no enabled keys")
	case r.EligibleKeys == 0:
		r.Issues = append(r.Issues, "total weight of enabled keys is zero")
	case r.Available == 0:
		r.Issues = append(r.Issues, "every eligible key has exhausted its rate budget")
	case r.EligibleKeys == 1:
		r.Warnings = append(r.Warnings, "only one eligible key")
	}

	a := analyze(view)
	r.Score = a.BalanceScore
	if a.VarianceCoefficient > varianceThreshold {
		r.Warnings = append(r.Warnings, fmt.Sprintf("uneven weights: variance coefficient %.3f", a.VarianceCoefficient))
	}
	for _, f := range a.Risk.Factors {
		if f.Type == "SinglePointFailure" {
			r.Warnings = append(r.Warnings, f.Description)
		}
	}

	switch {
	case len(r.Issues) > 0:
		r.Status = StatusDegraded
	case len(r.Warnings) > 0:
		r.Status = StatusWarning
	}
	return r
}

func meanStdDev(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(v / float64(len(xs)))
}
