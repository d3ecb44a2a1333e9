package snapshot

import (
	"context"
	"slices"
	"time"

	"mercator-hq/keyweave/pkg/keypool"
)

// KeyState is one key's captured weight and enabled flag.
type KeyState struct {
	KeyID   string `json:"key_id"`
	Weight  int    `json:"weight"`
	Enabled bool   `json:"enabled"`
}

// Snapshot is an immutable capture of every key's weight.
type Snapshot struct {
	ID          string     `json:"snapshot_id"`
	Description string     `json:"description"`
	CreatedBy   string     `json:"created_by"`
	Timestamp   time.Time  `json:"timestamp"`
	Automatic   bool       `json:"automatic"`
	ViewVersion uint64     `json:"view_version"`
	Keys        []KeyState `json:"keys"`
}

// Weights returns the captured weights by key id.
func (s *Snapshot) Weights() map[string]int {
	out := make(map[string]int, len(s.Keys))
	for _, k := range s.Keys {
		out[k.KeyID] = k.Weight
	}
	return out
}

// Summary returns the snapshot's metadata.
func (s *Snapshot) Summary() Summary {
	total := 0
	for _, k := range s.Keys {
		if k.Enabled {
			total += k.Weight
		}
	}
	return Summary{
		ID:          s.ID,
		Description: s.Description,
		CreatedBy:   s.CreatedBy,
		Timestamp:   s.Timestamp,
		Automatic:   s.Automatic,
		KeyCount:    len(s.Keys),
		TotalWeight: total,
	}
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Keys = slices.Clone(s.Keys)
	return &c
}

// Summary is snapshot metadata without the key table.
type Summary struct {
	ID          string    `json:"snapshot_id"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	Timestamp   time.Time `json:"timestamp"`
	Automatic   bool      `json:"automatic"`
	KeyCount    int       `json:"key_count"`
	TotalWeight int       `json:"total_weight"`
}

// FromView captures the key states of v in pool order.
func FromView(v *keypool.View) []KeyState {
	states := make([]KeyState, len(v.Keys))
	for i, k := range v.Keys {
		states[i] = KeyState{KeyID: k.ID, Weight: k.Weight, Enabled: k.Enabled}
	}
	return states
}

// Store persists snapshots. Snapshots are never modified once saved.
type Store interface {
	// Save stores a new snapshot. Saving an existing id fails.
	Save(ctx context.Context, s *Snapshot) error

	// Get returns the snapshot with id or a *SnapshotNotFoundError.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// List returns every snapshot, newest first.
	List(ctx context.Context) ([]*Snapshot, error)

	// Close releases backend resources.
	Close() error
}
