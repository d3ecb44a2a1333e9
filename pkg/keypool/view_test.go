package keypool

import (
	"math"
	"testing"
	"time"
)

var keytime = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestView(t *testing.T) {
	disabled := key("c", 50)
	disabled.Enabled = false
	v := newView(3, []KeyRecord{key("a", 300), key("b", 100), disabled, key("z", 0)}, keytime)

	if v.Len() != 4 || !v.Has("c") || v.Has("nope") {
		t.Fatal("lookup broken")
	}
	if got := v.TotalWeight(); got != 400 {
		t.Errorf("TotalWeight() = %d, want 400", got)
	}

	eligible := v.Eligible()
	if len(eligible) != 2 || eligible[0].ID != "a" || eligible[1].ID != "b" {
		t.Errorf("Eligible() = %+v", eligible)
	}
	if v.EnabledCount() != 3 {
		t.Errorf("EnabledCount() = %d, want 3", v.EnabledCount())
	}

	shares := v.Shares()
	if math.Abs(shares["a"]-0.75) > 1e-9 || math.Abs(shares["b"]-0.25) > 1e-9 {
		t.Errorf("Shares() = %v", shares)
	}
	if shares["c"] != 0 || shares["z"] != 0 {
		t.Errorf("ineligible keys should have zero share: %v", shares)
	}

	if w := v.Weights(); w["c"] != 50 || len(w) != 4 {
		t.Errorf("Weights() = %v", w)
	}
	if ids := v.IDs(); len(ids) != 4 || ids[3] != "z" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestView_SharesEmpty(t *testing.T) {
	v := newView(1, []KeyRecord{key("a", 0)}, keytime)
	if v.Shares()["a"] != 0 {
		t.Error("expected zero share when total weight is zero")
	}
}
