package keypool

import (
	"slices"
	"time"
)

// KeyRecord is one upstream credential and its selection parameters.
type KeyRecord struct {
	ID                   string `json:"id"`
	Weight               int    `json:"weight"`
	Enabled              bool   `json:"enabled"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Credential           string `json:"-"`
}

// Selectable reports whether the record can receive traffic, ignoring rate
// budget.
func (k KeyRecord) Selectable() bool {
	return k.Enabled && k.Weight > 0
}

// View is an immutable, versioned copy of the pool. Callers must not modify
// Keys.
type View struct {
	Version   uint64      `json:"version"`
	Keys      []KeyRecord `json:"keys"`
	CreatedAt time.Time   `json:"created_at"`

	index map[string]int
}

func newView(version uint64, keys []KeyRecord, at time.Time) *View {
	v := &View{
		Version:   version,
		Keys:      keys,
		CreatedAt: at,
		index:     make(map[string]int, len(keys)),
	}
	for i, k := range keys {
		v.index[k.ID] = i
	}
	return v
}

// Get returns the record for id.
func (v *View) Get(id string) (KeyRecord, bool) {
	i, ok := v.index[id]
	if !ok {
		return KeyRecord{}, false
	}
	return v.Keys[i], true
}

// Has reports whether id is in the view.
func (v *View) Has(id string) bool {
	_, ok := v.index[id]
	return ok
}

// Len returns the number of keys.
func (v *View) Len() int {
	return len(v.Keys)
}

// IDs returns key ids in pool order.
func (v *View) IDs() []string {
	ids := make([]string, len(v.Keys))
	for i, k := range v.Keys {
		ids[i] = k.ID
	}
	return ids
}

// Eligible returns enabled keys with positive weight, in pool order.
func (v *View) Eligible() []KeyRecord {
	out := make([]KeyRecord, 0, len(v.Keys))
	for _, k := range v.Keys {
		if k.Selectable() {
			out = append(out, k)
		}
	}
	return out
}

// EnabledCount returns the number of enabled keys.
func (v *View) EnabledCount() int {
	n := 0
	for _, k := range v.Keys {
		if k.Enabled {
			n++
		}
	}
	return n
}

// TotalWeight sums the weights of selectable keys.
func (v *View) TotalWeight() int {
	total := 0
	for _, k := range v.Keys {
		if k.Selectable() {
			total += k.Weight
		}
	}
	return total
}

// Weights returns a map of key id to weight for every key.
func (v *View) Weights() map[string]int {
	out := make(map[string]int, len(v.Keys))
	for _, k := range v.Keys {
		out[k.ID] = k.Weight
	}
	return out
}

// Limits returns a map of key id to max requests per minute.
func (v *View) Limits() map[string]int {
	out := make(map[string]int, len(v.Keys))
	for _, k := range v.Keys {
		out[k.ID] = k.MaxRequestsPerMinute
	}
	return out
}

// Shares returns each selectable key's fraction of TotalWeight. Keys that
// cannot be selected have share 0.
func (v *View) Shares() map[string]float64 {
	total := v.TotalWeight()
	out := make(map[string]float64, len(v.Keys))
	for _, k := range v.Keys {
		if total > 0 && k.Selectable() {
			out[k.ID] = float64(k.Weight) / float64(total)
		} else {
			out[k.ID] = 0
		}
	}
	return out
}

func (v *View) cloneKeys() []KeyRecord {
	return slices.Clone(v.Keys)
}
