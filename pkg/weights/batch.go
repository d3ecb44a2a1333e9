package weights

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/presets"
)

// BatchOperation is an arithmetic operation applied to several keys.
type BatchOperation string

const (
	BatchSet      BatchOperation = "set"
	BatchIncrease BatchOperation = "increase"
	BatchDecrease BatchOperation = "decrease"
	BatchMultiply BatchOperation = "multiply"
)

// WeightUpdate sets one key's weight explicitly.
type WeightUpdate struct {
	KeyID  string `json:"key_id"`
	Weight int    `json:"weight"`
}

// BatchRequest is either an operation over TargetKeys or a list of
// explicit Updates. An operation with no TargetKeys covers every enabled
// key.
type BatchRequest struct {
	Operation  BatchOperation `json:"operation,omitempty"`
	Value      float64        `json:"value,omitempty"`
	TargetKeys []string       `json:"target_keys,omitempty"`
	Updates    []WeightUpdate `json:"updates,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Batch applies req as one atomic Batch operation. Results of arithmetic
// operations are rounded to the nearest integer; a result below zero
// rejects the whole batch.
func (s *Service) Batch(ctx context.Context, actor Actor, req BatchRequest) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.Batch",
		attribute.String("batch.operation", string(req.Operation)),
		attribute.Int("batch.updates", len(req.Updates)),
	)
	defer func() { end(span, err) }()

	plan, md, err := batchPlan(req)
	if err != nil {
		return nil, err
	}

	actor = actor.withDefaults("api", audit.SourceAPI)
	reason := req.Reason
	if reason == "" {
		reason = "batch update"
	}
	return s.apply(ctx, plan, keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpBatch,
		Reason:    reason,
		Metadata:  md,
	}, "before batch update")
}

// batchPlan validates req and returns the plan that computes its
// change-set. Arithmetic operations read the weights of the view the
// batch commits to.
func batchPlan(req BatchRequest) (keypool.Plan, map[string]string, error) {
	switch {
	case len(req.Updates) > 0 && req.Operation != "":
		return nil, nil, invalid("operation", "operation and updates are mutually exclusive")
	case len(req.Updates) > 0:
		changes := make([]keypool.Change, len(req.Updates))
		for i, u := range req.Updates {
			if u.KeyID == "" {
				return nil, nil, invalid("updates", "entry %d has no key_id", i)
			}
			changes[i] = keypool.SetWeight(u.KeyID, u.Weight)
		}
		return fixed(changes...), map[string]string{MetaBatchOperation: "updates"}, nil
	case req.Operation == "":
		return nil, nil, invalid("operation", "operation or updates is required")
	}

	op := BatchOperation(strings.ToLower(string(req.Operation)))
	if err := validateOperand(op, req.Value); err != nil {
		return nil, nil, err
	}

	plan := func(view *keypool.View) ([]keypool.Change, error) {
		targets := req.TargetKeys
		if len(targets) == 0 {
			for _, k := range view.Keys {
				if k.Enabled {
					targets = append(targets, k.ID)
				}
			}
			if len(targets) == 0 {
				return nil, invalid("target_keys", "no enabled keys to update")
			}
		}

		changes := make([]keypool.Change, 0, len(targets))
		for _, id := range targets {
			k, ok := view.Get(id)
			if !ok {
				return nil, &keypool.KeyNotFoundError{KeyID: id}
			}
			changes = append(changes, keypool.SetWeight(id, applyOperation(op, k.Weight, req.Value)))
		}
		return changes, nil
	}

	md := map[string]string{
		MetaBatchOperation: string(op),
		MetaBatchValue:     strconv.FormatFloat(req.Value, 'f', -1, 64),
	}
	return plan, md, nil
}

func validateOperand(op BatchOperation, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return invalid("value", "must be a finite number")
	}
	switch op {
	case BatchSet, BatchIncrease, BatchDecrease:
	case BatchMultiply:
		if value < 0 {
			return invalid("value", "multiplier must be non-negative")
		}
	default:
		return invalid("operation", "unknown operation %q", op)
	}
	return nil
}

func applyOperation(op BatchOperation, weight int, value float64) int {
	w := float64(weight)
	switch op {
	case BatchSet:
		w = value
	case BatchIncrease:
		w += value
	case BatchDecrease:
		w -= value
	case BatchMultiply:
		w *= value
	}
	return int(math.Round(w))
}

// CreatePreset stores a preset. With nil weights the current weights of
// every key are used.
func (s *Service) CreatePreset(ctx context.Context, actor Actor, name, description string, weights map[string]int) (*presets.Preset, error) {
	if s.presets == nil {
		return nil, invalid("presets", "preset storage is not configured")
	}
	if weights == nil {
		weights = s.pool.CurrentView().Weights()
	}
	actor = actor.withDefaults("api", audit.SourceAPI)
	return s.presets.Create(ctx, presets.Preset{
		Name:        name,
		Description: description,
		Weights:     weights,
		CreatedBy:   actor.Operator,
	})
}

// ApplyPreset applies preset id as a Batch operation. Preset entries for
// keys no longer in the pool are skipped.
func (s *Service) ApplyPreset(ctx context.Context, actor Actor, id string) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.ApplyPreset", attribute.String("preset.id", id))
	defer func() { end(span, err) }()

	if s.presets == nil {
		return nil, invalid("presets", "preset storage is not configured")
	}
	p, err := s.presets.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	plan := func(view *keypool.View) ([]keypool.Change, error) {
		ids := make([]string, 0, len(p.Weights))
		for keyID := range p.Weights {
			if !view.Has(keyID) {
				s.logger.Warn("preset key not in pool, skipping", "preset_id", id, "key_id", keyID)
				continue
			}
			ids = append(ids, keyID)
		}
		if len(ids) == 0 {
			return nil, invalid("preset", "preset %s matches no key in the pool", id)
		}
		slices.Sort(ids)

		changes := make([]keypool.Change, len(ids))
		for i, keyID := range ids {
			changes[i] = keypool.SetWeight(keyID, p.Weights[keyID])
		}
		return changes, nil
	}

	actor = actor.withDefaults("api", audit.SourceAPI)
	return s.apply(ctx, plan, keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpBatch,
		Reason:    fmt.Sprintf("apply preset %s", p.Name),
		Metadata:  map[string]string{MetaPreset: p.ID, MetaPresetName: p.Name},
	}, "before preset "+p.Name)
}

// Normalize scales the weights of enabled keys so that they sum to target,
// keeping their proportions. Rounding remainders go to the keys with the
// largest fractional parts, so the total is exact.
func (s *Service) Normalize(ctx context.Context, actor Actor, target int) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.Normalize", attribute.Int("target", target))
	defer func() { end(span, err) }()

	if target <= 0 {
		return nil, invalid("target_total", "must be positive")
	}

	plan := func(view *keypool.View) ([]keypool.Change, error) {
		var enabled []keypool.KeyRecord
		current := 0
		for _, k := range view.Keys {
			if k.Enabled {
				enabled = append(enabled, k)
				current += k.Weight
			}
		}
		if current == 0 {
			return nil, invalid("weights", "total weight of enabled keys is zero")
		}

		type share struct {
			idx  int
			frac float64
		}
		next := make([]int, len(enabled))
		shares := make([]share, len(enabled))
		assigned := 0
		for i, k := range enabled {
			exact := float64(k.Weight) * float64(target) / float64(current)
			next[i] = int(math.Floor(exact))
			shares[i] = share{idx: i, frac: exact - float64(next[i])}
			assigned += next[i]
		}
		slices.SortStableFunc(shares, func(a, b share) int {
			switch {
			case a.frac > b.frac:
				return -1
			case a.frac < b.frac:
				return 1
			}
			return 0
		})
		for i := 0; assigned < target; i++ {
			next[shares[i].idx]++
			assigned++
		}

		changes := make([]keypool.Change, len(enabled))
		for i, k := range enabled {
			changes[i] = keypool.SetWeight(k.ID, next[i])
		}
		return changes, nil
	}
	return s.tool(ctx, actor, "normalize", fmt.Sprintf("normalize to total %d", target), plan)
}

// DistributeEvenly gives every enabled key total/n, with the remainder
// spread one unit at a time over the first keys in pool order.
func (s *Service) DistributeEvenly(ctx context.Context, actor Actor, total int) (_ *MutationResult, err error) {
	ctx, span := s.start(ctx, "weights.DistributeEvenly", attribute.Int("total", total))
	defer func() { end(span, err) }()

	if total <= 0 {
		return nil, invalid("total_weight", "must be positive")
	}

	plan := func(view *keypool.View) ([]keypool.Change, error) {
		var ids []string
		for _, k := range view.Keys {
			if k.Enabled {
				ids = append(ids, k.ID)
			}
		}
		if len(ids) == 0 {
			return nil, invalid("weights", "no enabled keys to distribute over")
		}

		per, rem := total/len(ids), total%len(ids)
		changes := make([]keypool.Change, len(ids))
		for i, id := range ids {
			w := per
			if i < rem {
				w++
			}
			changes[i] = keypool.SetWeight(id, w)
		}
		return changes, nil
	}
	return s.tool(ctx, actor, "distribute", fmt.Sprintf("distribute %d evenly", total), plan)
}

func (s *Service) tool(ctx context.Context, actor Actor, name, reason string, plan keypool.Plan) (*MutationResult, error) {
	actor = actor.withDefaults("api", audit.SourceAPI)
	return s.apply(ctx, plan, keypool.Mutation{
		Operator:  actor.Operator,
		Source:    actor.Source,
		Operation: audit.OpBatch,
		Reason:    reason,
		Metadata:  map[string]string{MetaTool: name},
	}, "before "+name)
}
