package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/keypool"
)

// Metadata keys written on rollback records.
const (
	MetaSnapshotID     = "snapshot_id"
	MetaRollbackReason = "rollback_reason"
)

// Pool is the part of *keypool.Pool the manager needs.
type Pool interface {
	CurrentView() *keypool.View
	Mutate(ctx context.Context, plan keypool.Plan, m keypool.Mutation, prepare keypool.Prepare) ([]*audit.Record, error)
}

// Manager captures pool state and restores it.
type Manager struct {
	store  Store
	pool   Pool
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces the snapshot id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a manager over store and pool.
func NewManager(store Store, pool Pool, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		pool:   pool,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "snapshot.manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capture records the current weights of every key.
func (m *Manager) Capture(ctx context.Context, description, createdBy string) (*Snapshot, error) {
	return m.capture(ctx, description, createdBy, false)
}

// CaptureAuto records the current weights before a risky mutation.
func (m *Manager) CaptureAuto(ctx context.Context, description string) (*Snapshot, error) {
	return m.CaptureView(ctx, m.pool.CurrentView(), description)
}

// CaptureView records view as an automatic snapshot. Mutation hooks pass
// the view they are about to change, so the snapshot holds the state
// immediately before it.
func (m *Manager) CaptureView(ctx context.Context, view *keypool.View, description string) (*Snapshot, error) {
	return m.save(ctx, view, description, "system", true)
}

func (m *Manager) capture(ctx context.Context, description, createdBy string, automatic bool) (*Snapshot, error) {
	return m.save(ctx, m.pool.CurrentView(), description, createdBy, automatic)
}

func (m *Manager) save(ctx context.Context, view *keypool.View, description, createdBy string, automatic bool) (*Snapshot, error) {
	snap := &Snapshot{
		ID:          m.newID(),
		Description: description,
		CreatedBy:   createdBy,
		Timestamp:   m.now().UTC(),
		Automatic:   automatic,
		ViewVersion: view.Version,
		Keys:        FromView(view),
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	m.logger.Info("snapshot captured",
		"snapshot_id", snap.ID,
		"automatic", automatic,
		"created_by", createdBy,
		"view_version", view.Version,
	)
	return snap, nil
}

// List returns snapshot metadata, newest first.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	snaps, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(snaps))
	for i, s := range snaps {
		out[i] = s.Summary()
	}
	return out, nil
}

// Get returns the snapshot with id.
func (m *Manager) Get(ctx context.Context, id string) (*Snapshot, error) {
	return m.store.Get(ctx, id)
}

// Diff returns the change-set that restores snapshot id against the current
// view. Keys absent from the live pool are skipped; keys added after the
// snapshot are left as they are.
func (m *Manager) Diff(ctx context.Context, id string) (*Snapshot, []keypool.Change, error) {
	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return snap, diff(snap, m.pool.CurrentView(), m.logger), nil
}

func diff(snap *Snapshot, view *keypool.View, logger *slog.Logger) []keypool.Change {
	var changes []keypool.Change
	for _, ks := range snap.Keys {
		cur, ok := view.Get(ks.KeyID)
		if !ok {
			logger.Warn("snapshot key not in pool, skipping", "snapshot_id", snap.ID, "key_id", ks.KeyID)
			continue
		}
		if cur.Weight == ks.Weight && cur.Enabled == ks.Enabled {
			continue
		}
		c := keypool.Change{KeyID: ks.KeyID}
		if cur.Weight != ks.Weight {
			w := ks.Weight
			c.Weight = &w
		}
		if cur.Enabled != ks.Enabled {
			e := ks.Enabled
			c.Enabled = &e
		}
		changes = append(changes, c)
	}
	return changes
}

// RollbackOptions attributes a rollback.
type RollbackOptions struct {
	Operator string
	Source   audit.Source
	Reason   string

	// Prepare, when set, runs against the view being restored once the
	// diff is known to change something.
	Prepare keypool.Prepare
}

// Rollback restores the weights and enabled flags captured in snapshot id.
// Only keys that differ are changed, as one atomic mutation. The diff is
// taken against the view the mutation commits to. It returns the audit
// records written, which is empty when nothing differs.
func (m *Manager) Rollback(ctx context.Context, id string, opts RollbackOptions) ([]*audit.Record, error) {
	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if opts.Source == "" {
		opts.Source = audit.SourceAPI
	}
	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("rollback to snapshot %s", snap.ID)
	}

	metadata := map[string]string{MetaSnapshotID: snap.ID}
	if opts.Reason != "" {
		metadata[MetaRollbackReason] = opts.Reason
	}

	plan := func(view *keypool.View) ([]keypool.Change, error) {
		return diff(snap, view, m.logger), nil
	}
	records, err := m.pool.Mutate(ctx, plan, keypool.Mutation{
		Operator:  opts.Operator,
		Source:    opts.Source,
		Operation: audit.OpRollback,
		Reason:    reason,
		Metadata:  metadata,
	}, opts.Prepare)
	if err != nil {
		return nil, fmt.Errorf("rollback to snapshot %s failed: %w", snap.ID, err)
	}
	if len(records) == 0 {
		m.logger.Info("rollback is a no-op", "snapshot_id", id)
		return records, nil
	}

	m.logger.Info("rolled back to snapshot",
		"snapshot_id", snap.ID,
		"operator", opts.Operator,
		"changes", len(records),
	)
	return records, nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
