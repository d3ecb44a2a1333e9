package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/keyweave/pkg/audit"
)

// Metadata keys written by the pool.
const (
	MetaEnabled           = "enabled"
	MetaAdded             = "added"
	MetaRemovedFromConfig = "removed_from_config"
)

// Change describes the new state of one key. Nil fields are left as they
// are.
type Change struct {
	KeyID   string `json:"key_id"`
	Weight  *int   `json:"weight,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// SetWeight returns a change that sets id's weight.
func SetWeight(id string, weight int) Change {
	return Change{KeyID: id, Weight: &weight}
}

// SetEnabled returns a change that enables or disables id.
func SetEnabled(id string, enabled bool) Change {
	return Change{KeyID: id, Enabled: &enabled}
}

// Mutation carries the attribution written to every audit record produced
// by one call.
type Mutation struct {
	Operator  string
	Source    audit.Source
	Operation audit.OperationType
	Reason    string
	Metadata  map[string]string
}

// Appender persists audit records as one unit. *audit.Log implements it.
type Appender interface {
	Append(ctx context.Context, records []*audit.Record) error
}

// Pool is the authoritative key table. Readers load the current View
// without locking; writers are serialized and publish a new View with one
// atomic swap after the audit records are durable.
type Pool struct {
	current atomic.Pointer[View]

	mu       sync.Mutex // serializes writers
	appender Appender
	now      func() time.Time

	subsMu sync.RWMutex
	subs   map[int]func(*View)
	nextID int

	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool from key definitions. A nil appender disables audit
// persistence.
func New(keys []KeyRecord, appender Appender, opts ...Option) (*Pool, error) {
	if err := ValidateKeys(keys); err != nil {
		return nil, err
	}

	p := &Pool{
		appender: appender,
		now:      time.Now,
		subs:     make(map[int]func(*View)),
		logger:   slog.Default().With("component", "keypool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.current.Store(newView(1, slices.Clone(keys), p.now()))
	return p, nil
}

// ValidateKeys checks ids, weights and limits of key definitions.
func ValidateKeys(keys []KeyRecord) error {
	seen := make(map[string]bool, len(keys))
	for i, k := range keys {
		if k.ID == "" {
			return &InvalidKeyError{Reason: fmt.Sprintf("key %d has an empty id", i)}
		}
		if seen[k.ID] {
			return &InvalidKeyError{KeyID: k.ID, Reason: "duplicate id"}
		}
		seen[k.ID] = true
		if k.Weight < 0 {
			return &InvalidWeightError{KeyID: k.ID, Weight: k.Weight}
		}
		if k.MaxRequestsPerMinute <= 0 {
			return &InvalidKeyError{KeyID: k.ID, Reason: "max_requests_per_minute must be positive"}
		}
	}
	return nil
}

// CurrentView returns the current immutable view.
func (p *Pool) CurrentView() *View {
	return p.current.Load()
}

// Plan derives a change-set from the view it will be applied to. It runs
// under the writer lock, so the view is the one the changes commit against.
type Plan func(view *View) ([]Change, error)

// Prepare runs under the writer lock once the change-set has validated and
// changes at least one key, before any audit record is written. Metadata
// it returns is added to every record. An error aborts the mutation and
// nothing is written.
type Prepare func(ctx context.Context, view *View, changes []Change) (map[string]string, error)

// ApplyMutation applies changes as one unit. Every key must exist and every
// weight must be non-negative, otherwise nothing changes and no record is
// written. Keys whose weight and enabled flag end up unchanged produce no
// record; if no key changes, the view is not replaced.
func (p *Pool) ApplyMutation(ctx context.Context, changes []Change, m Mutation) ([]*audit.Record, error) {
	return p.Mutate(ctx, func(*View) ([]Change, error) { return changes, nil }, m, nil)
}

// Mutate is ApplyMutation for change-sets that depend on current weights.
// plan and prepare run while writers are excluded, so relative edits such
// as "increase by 10" never race with another mutation. prepare may be
// nil.
func (p *Pool) Mutate(ctx context.Context, plan Plan, m Mutation, prepare Prepare) ([]*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current.Load()
	changes, err := plan(cur)
	if err != nil {
		return nil, err
	}
	next := cur.cloneKeys()

	for _, c := range changes {
		i, ok := cur.index[c.KeyID]
		if !ok {
			return nil, &KeyNotFoundError{KeyID: c.KeyID}
		}
		if c.Weight != nil {
			if *c.Weight < 0 {
				return nil, &InvalidWeightError{KeyID: c.KeyID, Weight: *c.Weight}
			}
			next[i].Weight = *c.Weight
		}
		if c.Enabled != nil {
			next[i].Enabled = *c.Enabled
		}
	}

	now := p.now()
	var records []*audit.Record
	for i := range next {
		if r := diffRecord(cur.Keys[i], next[i], m, now); r != nil {
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		return []*audit.Record{}, nil
	}

	if prepare != nil {
		extra, err := prepare(ctx, cur, changes)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			maps.Copy(r.Metadata, extra)
		}
	}

	if err := p.commitLocked(ctx, cur, next, records, now); err != nil {
		return nil, err
	}
	return records, nil
}

// Replace re-initializes the pool from a new key list. Keys present in both
// take the new definition. New keys are added. Keys missing from the list
// are kept disabled with their weight unchanged so that audit history keeps
// pointing at a known key.
func (p *Pool) Replace(ctx context.Context, keys []KeyRecord, m Mutation) ([]*audit.Record, error) {
	if err := ValidateKeys(keys); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current.Load()
	now := p.now()

	incoming := make(map[string]bool, len(keys))
	next := make([]KeyRecord, 0, len(keys)+len(cur.Keys))
	var records []*audit.Record

	for _, k := range keys {
		incoming[k.ID] = true
		next = append(next, k)

		old, ok := cur.Get(k.ID)
		if !ok {
			r := newRecord(m, now, k.ID, 0, k.Weight)
			r.Metadata[MetaAdded] = "true"
			records = append(records, r)
			continue
		}
		if r := diffRecord(old, k, m, now); r != nil {
			records = append(records, r)
		}
	}

	for _, old := range cur.Keys {
		if incoming[old.ID] {
			continue
		}
		kept := old
		kept.Enabled = false
		next = append(next, kept)
		if old.Enabled {
			r := newRecord(m, now, old.ID, old.Weight, old.Weight)
			r.Metadata[MetaEnabled] = "false"
			r.Metadata[MetaRemovedFromConfig] = "true"
			records = append(records, r)
		}
	}

	if len(records) == 0 && slices.Equal(cur.Keys, next) {
		return []*audit.Record{}, nil
	}
	if err := p.commitLocked(ctx, cur, next, records, now); err != nil {
		return nil, err
	}
	if records == nil {
		records = []*audit.Record{}
	}
	return records, nil
}

// Subscribe registers fn to be called with every new view, in publication
// order. fn runs on the writer's goroutine and must not mutate the pool.
// The returned function removes the subscription.
func (p *Pool) Subscribe(fn func(*View)) (unsubscribe func()) {
	p.subsMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subsMu.Unlock()

	return func() {
		p.subsMu.Lock()
		delete(p.subs, id)
		p.subsMu.Unlock()
	}
}

// commitLocked persists records and publishes next. Caller must hold p.mu.
func (p *Pool) commitLocked(ctx context.Context, cur *View, next []KeyRecord, records []*audit.Record, now time.Time) error {
	if p.appender != nil && len(records) > 0 {
		if err := p.appender.Append(ctx, records); err != nil {
			return fmt.Errorf("keypool: persist audit records: %w", err)
		}
	}

	view := newView(cur.Version+1, next, now)
	p.current.Store(view)

	p.logger.Info("key pool updated",
		"version", view.Version,
		"changes", len(records),
	)

	p.subsMu.RLock()
	subs := make([]func(*View), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subsMu.RUnlock()

	for _, fn := range subs {
		fn(view)
	}
	return nil
}

func diffRecord(old, new KeyRecord, m Mutation, now time.Time) *audit.Record {
	if old.Weight == new.Weight && old.Enabled == new.Enabled {
		return nil
	}
	r := newRecord(m, now, new.ID, old.Weight, new.Weight)
	if old.Enabled != new.Enabled {
		r.Metadata[MetaEnabled] = strconv.FormatBool(new.Enabled)
	}
	return r
}

func newRecord(m Mutation, now time.Time, keyID string, oldWeight, newWeight int) *audit.Record {
	md := maps.Clone(m.Metadata)
	if md == nil {
		md = make(map[string]string)
	}
	return &audit.Record{
		Timestamp:     now,
		Operator:      m.Operator,
		OperationType: m.Operation,
		TargetKeyID:   keyID,
		OldWeight:     oldWeight,
		NewWeight:     newWeight,
		Reason:        m.Reason,
		Source:        m.Source,
		Metadata:      md,
	}
}
