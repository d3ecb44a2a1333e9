package optimizer

import "mercator-hq/keyweave/pkg/keypool"

// Policy selects which recommendations are applied.
type Policy struct {
	// MaxRisk is the highest risk level accepted. Empty accepts all.
	MaxRisk keypool.RiskLevel
	// MinConfidence is the lowest confidence accepted.
	MinConfidence float64
	// TopN keeps the first N accepted recommendations. Zero keeps all.
	TopN int
}

// Accept returns the recommendations that change a weight and pass p, in
// their original order.
func Accept(recs []Recommendation, p Policy) []Recommendation {
	var out []Recommendation
	for _, r := range recs {
		if r.Change() == 0 {
			continue
		}
		if p.MaxRisk != "" && r.RiskLevel.Rank() > p.MaxRisk.Rank() {
			continue
		}
		if r.Confidence < p.MinConfidence {
			continue
		}
		out = append(out, r)
		if p.TopN > 0 && len(out) == p.TopN {
			break
		}
	}
	return out
}

// Changes converts the recommendations accepted by p into a change-set.
func Changes(recs []Recommendation, p Policy) []keypool.Change {
	accepted := Accept(recs, p)
	changes := make([]keypool.Change, len(accepted))
	for i, r := range accepted {
		changes[i] = keypool.SetWeight(r.KeyID, r.RecommendedWeight)
	}
	return changes
}
