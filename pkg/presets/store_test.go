package presets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/keyweave/internal/keytest"
)

func TestStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore("", WithClock(keytest.NewClock().Now))
	if err != nil {
		t.Fatal(err)
	}

	weights := map[string]int{"a": 100, "b": 50}
	created, err := s.Create(ctx, Preset{Name: "peak", Weights: weights, CreatedBy: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || !created.CreatedAt.Equal(keytest.Epoch) {
		t.Errorf("created = %+v", created)
	}

	// The caller's map is not retained.
	weights["a"] = 1

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Weights["a"] != 100 || got.Name != "peak" {
		t.Errorf("Get() = %+v", got)
	}

	if _, err := s.Create(ctx, Preset{Name: "offpeak", Weights: map[string]int{"a": 10}}); err != nil {
		t.Fatal(err)
	}
	list, _ := s.List(ctx)
	if len(list) != 2 || list[0].Name != "offpeak" || list[1].Name != "peak" {
		t.Errorf("List() = %+v", list)
	}
}

func TestStore_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		preset Preset
	}{
		{"missing name", Preset{Weights: map[string]int{"a": 1}}},
		{"blank name", Preset{Name: "  ", Weights: map[string]int{"a": 1}}},
		{"no weights", Preset{Name: "x"}},
		{"negative weight", Preset{Name: "x", Weights: map[string]int{"a": -1}}},
		{"empty key id", Preset{Name: "x", Weights: map[string]int{"": 1}}},
	}

	s, _ := NewStore("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.preset)
			if !errors.Is(err, ErrInvalidPreset) {
				t.Errorf("Create() error = %v, want ErrInvalidPreset", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStore("")

	p, _ := s.Create(ctx, Preset{Name: "x", Weights: map[string]int{"a": 1}})
	if err := s.Delete(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, p.ID); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
	if err := s.Delete(ctx, p.ID); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestStore_PersistsToYAML(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conf", "presets.yaml")

	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	keep, _ := s.Create(ctx, Preset{Name: "keep", Weights: map[string]int{"a": 7}})
	drop, _ := s.Create(ctx, Preset{Name: "drop", Weights: map[string]int{"b": 3}})
	if err := s.Delete(ctx, drop.ID); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name: keep") || strings.Contains(string(data), "name: drop") {
		t.Errorf("unexpected file contents:\n%s", data)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(ctx, keep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Weights["a"] != 7 {
		t.Errorf("reloaded preset = %+v", got)
	}
}

func TestNewStore_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")

	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "presets: [:"},
		{"missing id", "presets:\n  - name: x\n    weights: {a: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewStore(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
