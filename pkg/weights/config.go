package weights

import (
	"context"
	"fmt"

	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/optimizer"
)

// KeysFromConfig converts configured keys to pool records, applying the
// weight and enabled defaults.
func KeysFromConfig(keys []config.KeyConfig) []keypool.KeyRecord {
	out := make([]keypool.KeyRecord, len(keys))
	for i, k := range keys {
		out[i] = keypool.KeyRecord{
			ID:                   k.ID,
			Weight:               k.EffectiveWeight(),
			Enabled:              k.IsEnabled(),
			MaxRequestsPerMinute: k.MaxRequestsPerMinute,
			Credential:           k.Credential,
		}
	}
	return out
}

// ConfigFrom builds the service policy from cfg.
func ConfigFrom(cfg *config.Config) (Config, error) {
	maxRisk, err := keypool.ParseRiskLevel(cfg.Optimizer.AutoApply.MaxRisk)
	if err != nil {
		return Config{}, fmt.Errorf("optimizer.auto_apply.max_risk: %w", err)
	}
	out := Config{
		DefaultStrategy: cfg.Optimizer.DefaultStrategy,
		AutoApply: optimizer.Policy{
			MaxRisk:       maxRisk,
			MinConfidence: cfg.Optimizer.AutoApply.MinConfidence,
			TopN:          cfg.Optimizer.AutoApply.TopN,
		},
	}
	if cfg.Snapshot.AutoRiskThreshold != "" {
		if out.AutoSnapshotRisk, err = keypool.ParseRiskLevel(cfg.Snapshot.AutoRiskThreshold); err != nil {
			return Config{}, fmt.Errorf("snapshot.auto_risk_threshold: %w", err)
		}
	}
	return out, nil
}

// OptimizerConfigFrom builds optimizer tunables from cfg.
func OptimizerConfigFrom(cfg config.OptimizerConfig) *optimizer.Config {
	return &optimizer.Config{
		MinSamples:      cfg.MinSamples,
		MinSamplesFloor: cfg.MinSamplesFloor,
		Weights: optimizer.ScoreWeights{
			ResponseTime: cfg.ResponseTimeWeight,
			SuccessRate:  cfg.SuccessRateWeight,
			Throughput:   cfg.ThroughputWeight,
		},
		MaxAdjustmentPercent: cfg.MaxAdjustmentPercent,
		Sensitivity:          cfg.Sensitivity,
		MinWeight:            cfg.MinWeight,
		RunTimeout:           cfg.RunTimeout,
	}
}

// ApplyConfig re-initializes the pool from cfg's keys and replaces the
// service policy and optimizer tunables. The default strategy must be
// registered. cfg is expected to be validated.
func (s *Service) ApplyConfig(ctx context.Context, actor Actor, cfg *config.Config) (*MutationResult, error) {
	policy, err := ConfigFrom(cfg)
	if err != nil {
		return nil, invalid("config", "%v", err)
	}
	if policy.DefaultStrategy != "" && s.optimizer != nil {
		if _, err := s.optimizer.Registry().Lookup(policy.DefaultStrategy); err != nil {
			return nil, err
		}
	}

	res, err := s.ReplaceKeys(ctx, actor, KeysFromConfig(cfg.Keys))
	if err != nil {
		return nil, err
	}
	s.SetConfig(policy)
	if s.optimizer != nil {
		s.optimizer.SetConfig(OptimizerConfigFrom(cfg.Optimizer))
	}
	return res, nil
}
