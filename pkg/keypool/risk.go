package keypool

import (
	"fmt"
	"strings"
)

// RiskLevel grades the size of a weight change relative to the current
// weight.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Rank orders risk levels: Low < Medium < High.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// AtLeast reports whether r is at or above other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// ParseRiskLevel parses a risk level case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// ChangePercent returns |new-old| as a percentage of old. Any change away
// from zero counts as 100%.
func ChangePercent(oldWeight, newWeight int) float64 {
	if oldWeight == newWeight {
		return 0
	}
	if oldWeight == 0 {
		return 100
	}
	diff := newWeight - oldWeight
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(oldWeight) * 100
}

// AssessRisk grades one change: above 50% is High, above 20% is Medium.
func AssessRisk(oldWeight, newWeight int) RiskLevel {
	pct := ChangePercent(oldWeight, newWeight)
	switch {
	case pct > 50:
		return RiskHigh
	case pct > 20:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AssessChanges returns the highest risk across a change-set evaluated
// against v. Enable toggles count as High when they remove or add traffic.
func AssessChanges(v *View, changes []Change) RiskLevel {
	worst := RiskLow
	for _, c := range changes {
		cur, ok := v.Get(c.KeyID)
		if !ok {
			continue
		}
		risk := RiskLow
		if c.Weight != nil {
			risk = AssessRisk(cur.Weight, *c.Weight)
		}
		if c.Enabled != nil && *c.Enabled != cur.Enabled && cur.Weight > 0 {
			risk = RiskHigh
		}
		if risk.Rank() > worst.Rank() {
			worst = risk
		}
	}
	return worst
}
