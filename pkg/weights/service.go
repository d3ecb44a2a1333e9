package weights

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/optimizer"
	"mercator-hq/keyweave/pkg/presets"
	"mercator-hq/keyweave/pkg/ratelimit"
	"mercator-hq/keyweave/pkg/snapshot"
	"mercator-hq/keyweave/pkg/usage"
)

// Metadata keys written by the service.
const (
	MetaBatchOperation = "batch_operation"
	MetaBatchValue     = "batch_value"
	MetaPreset         = "preset"
	MetaPresetName     = "preset_name"
	MetaStrategy       = "strategy"
	MetaConfidence     = "confidence"
	MetaTool           = "tool"
	MetaAutoSnapshot   = "auto_snapshot_id"
)

// UsageSource provides usage statistics. *usage.Recorder implements it.
type UsageSource interface {
	AllStats() map[string]usage.Stats
	StatsFor(keyID string) (usage.Stats, bool)
	ResetFailures(keyID string)
}

// Deps are the components the service coordinates. Presets may be nil.
type Deps struct {
	Pool      *keypool.Pool
	Limiter   ratelimit.Backend
	Usage     UsageSource
	Optimizer *optimizer.Optimizer
	Snapshots *snapshot.Manager
	Presets   *presets.Store
}

// Config controls service policy.
type Config struct {
	// DefaultStrategy is used when a caller names none.
	DefaultStrategy string

	// AutoApply filters recommendations applied by Rebalance.
	AutoApply optimizer.Policy

	// AutoSnapshotRisk captures an automatic snapshot before any batch,
	// rebalance or rollback whose assessed risk reaches it. Empty disables.
	AutoSnapshotRisk keypool.RiskLevel
}

// Actor attributes a change.
type Actor struct {
	Operator string
	Source   audit.Source
}

func (a Actor) withDefaults(operator string, source audit.Source) Actor {
	if a.Operator == "" {
		a.Operator = operator
	}
	if a.Source == "" {
		a.Source = source
	}
	return a
}

// MutationResult describes one applied mutation.
type MutationResult struct {
	Records []*audit.Record `json:"records"`

	// Snapshot is set when an automatic snapshot was taken first.
	Snapshot *snapshot.Summary `json:"auto_snapshot,omitempty"`

	Risk        keypool.RiskLevel `json:"risk_level"`
	ViewVersion uint64            `json:"view_version"`
}

// Service is the single entry point for weight changes. Every change is one
// atomic pool mutation with its audit records.
type Service struct {
	pool      *keypool.Pool
	limiter   ratelimit.Backend
	usage     UsageSource
	optimizer *optimizer.Optimizer
	snapshots *snapshot.Manager
	presets   *presets.Store

	mu     sync.RWMutex
	config Config

	now    func() time.Time
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracer replaces the tracer used for mutation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates a service over deps.
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = string(optimizer.Balanced)
	}
	s := &Service{
		pool:      deps.Pool,
		limiter:   deps.Limiter,
		usage:     deps.Usage,
		optimizer: deps.Optimizer,
		snapshots: deps.Snapshots,
		presets:   deps.Presets,
		config:    cfg,
		now:       time.Now,
		tracer:    otel.Tracer("keyweave/weights"),
		logger:    slog.Default().With("component", "weights"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the policy in effect.
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetConfig replaces the policy used by later calls.
func (s *Service) SetConfig(cfg Config) {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = string(optimizer.Balanced)
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

// Pool returns the underlying pool.
func (s *Service) Pool() *keypool.Pool { return s.pool }

// Presets returns the preset store, or nil.
func (s *Service) Presets() *presets.Store { return s.presets }

// Snapshots returns the snapshot manager.
func (s *Service) Snapshots() *snapshot.Manager { return s.snapshots }

// Strategies lists the strategies the optimizer can run.
func (s *Service) Strategies() []optimizer.Definition {
	if s.optimizer == nil {
		return optimizer.Strategies()
	}
	return s.optimizer.Registry().Strategies()
}

// KeyUpdate is a single-key edit. Nil fields are left unchanged.
type KeyUpdate struct {
	Weight  *int   `json:"weight,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SetKey changes one key's weight and/or enabled flag as a Manual
// operation. Enabling a key clears its consecutive failure count.
func (s *Service) SetKey(ctx context.Context, actor Actor, keyID string, u KeyUpdate) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.SetKey", attribute.String("key.id", keyID))
	defer func() { end(span, err) }()

	if u.Weight == nil && u.Enabled == nil {
		return nil, invalid("body", "weight or enabled is required")
	}
	actor = actor.withDefaults("api", audit.SourceAPI)

	change := keypool.Change{KeyID: keyID, Weight: u.Weight, Enabled: u.Enabled}
	reason := u.Reason
	if reason == "" {
		reason = "manual update"
	}

	res, err := s.apply(ctx, fixed(change), keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpManual,
		Reason:    reason,
	}, "")
	if err != nil {
		return nil, err
	}

	if u.Enabled != nil && *u.Enabled && s.usage != nil {
		s.usage.ResetFailures(keyID)
	}
	return res, nil
}

// Rebalance runs the optimizer with strategy and applies the
// recommendations accepted by the auto-apply policy as an Automatic
// operation. With dryRun the pool is left unchanged.
func (s *Service) Rebalance(ctx context.Context, actor Actor, strategy string, dryRun bool) (_ *RebalanceResult, err error) {
	ctx, span := s.start(ctx, "weights.Rebalance",
		attribute.String("strategy", strategy),
		attribute.Bool("dry_run", dryRun),
	)
	defer func() { end(span, err) }()

	result, err := s.Recommend(ctx, strategy)
	if err != nil {
		return nil, err
	}

	policy := s.Config().AutoApply
	accepted := optimizer.Accept(result.Recommendations, policy)
	out := &RebalanceResult{Result: result, Accepted: accepted, DryRun: dryRun}
	if dryRun || len(accepted) == 0 {
		if out.Accepted == nil {
			out.Accepted = []optimizer.Recommendation{}
		}
		return out, nil
	}

	actor = actor.withDefaults("optimizer", audit.SourceOptimizer)
	changes := optimizer.Changes(result.Recommendations, policy)
	res, err := s.apply(ctx, fixed(changes...), keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpAutomatic,
		Reason:    fmt.Sprintf("rebalance with %s strategy", result.Strategy),
		Metadata: map[string]string{
			MetaStrategy:   string(result.Strategy),
			MetaConfidence: strconv.FormatFloat(result.Confidence, 'f', 3, 64),
		},
	}, fmt.Sprintf("before %s rebalance", result.Strategy))
	if err != nil {
		return nil, err
	}
	out.Mutation = res
	return out, nil
}

// RebalanceResult is the outcome of Rebalance.
type RebalanceResult struct {
	Result   *optimizer.Result          `json:"result"`
	Accepted []optimizer.Recommendation `json:"accepted"`
	DryRun   bool                       `json:"dry_run"`
	Mutation *MutationResult            `json:"mutation,omitempty"`
}

// Recommend runs the optimizer without applying anything. An empty
// strategy uses the configured default.
func (s *Service) Recommend(ctx context.Context, strategy string) (*optimizer.Result, error) {
	if strategy == "" {
		strategy = s.Config().DefaultStrategy
	}
	return s.optimizer.Recommend(ctx, strategy)
}

// Apply applies reviewed recommendations as an Intelligent operation.
func (s *Service) Apply(ctx context.Context, actor Actor, strategy string, recs []optimizer.Recommendation) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.Apply", attribute.Int("recommendations", len(recs)))
	defer func() { end(span, err) }()

	if len(recs) == 0 {
		return nil, invalid("recommendations", "at least one recommendation is required")
	}
	changes := make([]keypool.Change, 0, len(recs))
	for _, r := range recs {
		if r.KeyID == "" {
			return nil, invalid("recommendations", "key_id is required")
		}
		changes = append(changes, keypool.SetWeight(r.KeyID, r.RecommendedWeight))
	}

	actor = actor.withDefaults("api", audit.SourceAPI)
	md := map[string]string{}
	if strategy != "" {
		md[MetaStrategy] = strategy
	}
	return s.apply(ctx, fixed(changes...), keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpIntelligent,
		Reason:    "apply optimizer recommendations",
		Metadata:  md,
	}, "before applying recommendations")
}

// Capture takes a manual snapshot of the pool.
func (s *Service) Capture(ctx context.Context, actor Actor, description string) (*snapshot.Snapshot, error) {
	actor = actor.withDefaults("api", audit.SourceAPI)
	return s.snapshots.Capture(ctx, description, actor.Operator)
}

// Rollback restores snapshot id. When the restore is risky enough an
// automatic snapshot of the current state is taken first, so the rollback
// can itself be undone.
func (s *Service) Rollback(ctx context.Context, actor Actor, id, reason string) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.Rollback", attribute.String("snapshot.id", id))
	defer func() { end(span, err) }()

	actor = actor.withDefaults("api", audit.SourceAPI)

	res := &MutationResult{Risk: keypool.RiskLow}
	res.Records, err = s.snapshots.Rollback(ctx, id, snapshot.RollbackOptions{
		Operator: actor.Operator,
		Source:   actor.Source,
		Reason:   reason,
		Prepare:  s.prepare(res, "before rollback to "+id),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		res.ViewVersion = s.pool.CurrentView().Version
	}
	return res, nil
}

// ReplaceKeys re-initializes the pool from a new key list and reconfigures
// the rate limiter. Keys that disappear are kept disabled.
func (s *Service) ReplaceKeys(ctx context.Context, actor Actor, keys []keypool.KeyRecord) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.ReplaceKeys", attribute.Int("keys", len(keys)))
	defer func() { end(span, err) }()

	actor = actor.withDefaults("config", audit.SourceConfigFile)
	records, err := s.pool.Replace(ctx, keys, keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpBatch,
		Reason:    "key configuration replaced",
	})
	if err != nil {
		return nil, err
	}

	view := s.pool.CurrentView()
	if s.limiter != nil {
		s.limiter.Configure(view.Limits())
	}
	s.logger.Info("key configuration replaced",
		"operator", actor.Operator,
		"source", actor.Source,
		"keys", view.Len(),
		"changes", len(records),
	)
	return &MutationResult{Records: records, Risk: keypool.RiskLow, ViewVersion: view.Version}, nil
}

// fixed is a plan whose change-set does not depend on current weights.
func fixed(changes ...keypool.Change) keypool.Plan {
	return func(*keypool.View) ([]keypool.Change, error) { return changes, nil }
}

// apply commits the change-set built by plan. Grading, the automatic
// snapshot and the commit all see the same view.
func (s *Service) apply(ctx context.Context, plan keypool.Plan, m keypool.Mutation, snapshotDesc string) (*MutationResult, error) {
	res := &MutationResult{Risk: keypool.RiskLow}
	planned := func(v *keypool.View) ([]keypool.Change, error) {
		res.ViewVersion = v.Version
		return plan(v)
	}

	records, err := s.pool.Mutate(ctx, planned, m, s.prepare(res, snapshotDesc))
	if err != nil {
		return nil, err
	}
	res.Records = records

	s.logger.Info("weights updated",
		"operation", m.Operation,
		"operator", m.Operator,
		"source", m.Source,
		"changes", len(records),
		"risk", res.Risk,
	)
	return res, nil
}

// prepare grades the change-set against the view it commits to and, when
// the risk reaches the threshold, snapshots that view first. It fills in
// res as it goes.
func (s *Service) prepare(res *MutationResult, snapshotDesc string) keypool.Prepare {
	return func(ctx context.Context, view *keypool.View, changes []keypool.Change) (map[string]string, error) {
		res.Risk = keypool.AssessChanges(view, changes)
		res.ViewVersion = view.Version + 1
		if snapshotDesc == "" {
			return nil, nil
		}
		snap, err := s.autoSnapshot(ctx, view, res.Risk, snapshotDesc)
		if err != nil || snap == nil {
			return nil, err
		}
		res.Snapshot = snap
		return map[string]string{MetaAutoSnapshot: snap.ID}, nil
	}
}

func (s *Service) autoSnapshot(ctx context.Context, view *keypool.View, risk keypool.RiskLevel, description string) (*snapshot.Summary, error) {
	threshold := s.Config().AutoSnapshotRisk
	if threshold == "" || s.snapshots == nil || !risk.AtLeast(threshold) {
		return nil, nil
	}
	snap, err := s.snapshots.CaptureView(ctx, view, description)
	if err != nil {
		return nil, fmt.Errorf("automatic snapshot failed: %w", err)
	}
	s.logger.Info("automatic snapshot taken", "snapshot_id", snap.ID, "risk", risk)
	sum := snap.Summary()
	return &sum, nil
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
