package keypool

import "testing"

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		old, new int
		want     RiskLevel
	}{
		{100, 100, RiskLow},
		{100, 120, RiskLow},
		{100, 121, RiskMedium},
		{100, 150, RiskMedium},
		{100, 151, RiskHigh},
		{100, 49, RiskHigh},
		{100, 79, RiskMedium},
		{0, 0, RiskLow},
		{0, 10, RiskHigh},
		{10, 0, RiskHigh},
	}

	for _, tt := range tests {
		if got := AssessRisk(tt.old, tt.new); got != tt.want {
			t.Errorf("AssessRisk(%d, %d) = %s, want %s", tt.old, tt.new, got, tt.want)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, s := range []string{"low", "Medium", " HIGH "} {
		if _, err := ParseRiskLevel(s); err != nil {
			t.Errorf("ParseRiskLevel(%q) error = %v", s, err)
		}
	}
	if _, err := ParseRiskLevel("extreme"); err == nil {
		t.Error("expected error for unknown level")
	}
	if !RiskHigh.AtLeast(RiskMedium) || RiskLow.AtLeast(RiskMedium) || !RiskMedium.AtLeast(RiskMedium) {
		t.Error("AtLeast ordering wrong")
	}
}

func TestAssessChanges(t *testing.T) {
	v := newView(1, []KeyRecord{key("a", 100), key("b", 100), {ID: "z", Weight: 0, MaxRequestsPerMinute: 1}}, keytime)

	tests := []struct {
		name    string
		changes []Change
		want    RiskLevel
	}{
		{"empty", nil, RiskLow},
		{"small", []Change{SetWeight("a", 110)}, RiskLow},
		{"worst wins", []Change{SetWeight("a", 110), SetWeight("b", 130)}, RiskMedium},
		{"disable traffic", []Change{SetEnabled("a", false)}, RiskHigh},
		{"enable zero-weight key", []Change{SetEnabled("z", true)}, RiskLow},
		{"unknown ignored", []Change{SetWeight("nope", 1)}, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessChanges(v, tt.changes); got != tt.want {
				t.Errorf("AssessChanges() = %s, want %s", got, tt.want)
			}
		})
	}
}
