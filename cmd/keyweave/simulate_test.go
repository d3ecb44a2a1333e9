package main

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"mercator-hq/keyweave/internal/keytest"
	"mercator-hq/keyweave/pkg/keypool"
)

func TestRunSimulation(t *testing.T) {
	keys := []keypool.KeyRecord{
		keytest.Key("a", 75, 1),
		keytest.Key("b", 25, 1),
	}
	res, err := runSimulation(context.Background(), keys, 20000, 7, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Exhausted != 0 {
		t.Errorf("exhausted = %d with limits ignored", res.Exhausted)
	}
	for _, k := range res.Keys {
		if math.Abs(k.Observed-k.Expected) > 0.02 {
			t.Errorf("%s observed %.3f, expected %.3f", k.KeyID, k.Observed, k.Expected)
		}
	}
}

func TestRunSimulationRespectsLimits(t *testing.T) {
	keys := []keypool.KeyRecord{
		keytest.Key("a", 50, 5),
		keytest.Key("b", 50, 5),
	}
	res, err := runSimulation(context.Background(), keys, 20, 1, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Exhausted != 10 {
		t.Errorf("exhausted = %d, want 10", res.Exhausted)
	}
	for _, k := range res.Keys {
		if k.Selected != 5 {
			t.Errorf("%s selected %d, want 5", k.KeyID, k.Selected)
		}
	}
}

func TestSimulateCommand(t *testing.T) {
	path, _ := writeConfig(t, "")
	out, err := executeCommand(t, "simulate", "--config", path, "-n", "1000", "--seed", "3", "-q", "-o", "json")
	if err != nil {
		t.Fatalf("simulate error = %v", err)
	}
	var res SimulationResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	var total int64
	for _, k := range res.Keys {
		total += k.Selected
	}
	if res.Requests != 1000 || total != 1000 {
		t.Errorf("result = %+v", res)
	}

	if _, err := executeCommand(t, "simulate", "--config", path, "-n", "0"); err == nil {
		t.Error("zero requests accepted")
	}
}
