package selector

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/ratelimit"
	"mercator-hq/keyweave/pkg/usage"
)

// ViewSource provides the current pool view. *keypool.Pool implements it.
type ViewSource interface {
	CurrentView() *keypool.View
}

// Recorder receives call outcomes. *usage.Recorder implements it.
type Recorder interface {
	Record(keyID string, outcome usage.Outcome, latency time.Duration)
}

// Observer is notified of selection events, typically by metrics.
type Observer interface {
	ObserveSelection(keyID string, attempts int)
	ObserveRejection(keyID string)
	ObserveExhausted()
	ObserveOutcome(keyID string, outcome usage.Outcome, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSelection(string, int)                        {}
func (nopObserver) ObserveRejection(string)                             {}
func (nopObserver) ObserveExhausted()                                   {}
func (nopObserver) ObserveOutcome(string, usage.Outcome, time.Duration) {}

// Selector picks a key per request by weighted random choice among keys
// that are enabled, have positive weight and have rate budget left.
type Selector struct {
	pool     ViewSource
	limiter  ratelimit.Backend
	recorder Recorder
	observer Observer

	maxRetries       int
	releaseOnFailure bool

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithSeed makes draws reproducible. Zero picks a random seed.
func WithSeed(seed uint64) Option {
	return func(s *Selector) {
		if seed != 0 {
			s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

// WithRand supplies the random source directly.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// WithMaxRetries caps reservation attempts per Select. Zero means one
// attempt per eligible key; the cap never exceeds that.
func WithMaxRetries(n int) Option {
	return func(s *Selector) { s.maxRetries = n }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(s *Selector) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithRecorder sets where Selection.Done reports outcomes.
func WithRecorder(r Recorder) Option {
	return func(s *Selector) { s.recorder = r }
}

// WithReleaseOnFailure returns the reservation to the key's budget when a
// call completes with usage.Failure. The default keeps it spent.
func WithReleaseOnFailure(release bool) Option {
	return func(s *Selector) { s.releaseOnFailure = release }
}

// New creates a selector over pool and limiter.
func New(pool ViewSource, limiter ratelimit.Backend, opts ...Option) *Selector {
	s := &Selector{
		pool:     pool,
		limiter:  limiter,
		observer: nopObserver{},
		logger:   slog.Default().With("component", "selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Selection is a key reserved for one request. Call Done exactly once when
// the upstream call finishes.
type Selection struct {
	KeyID       string    `json:"key_id"`
	Credential  string    `json:"-"`
	Weight      int       `json:"weight"`
	ViewVersion uint64    `json:"view_version"`
	Attempts    int       `json:"attempts"`
	ReservedAt  time.Time `json:"reserved_at"`

	reservation ratelimit.Reservation
	sel         *Selector
	done        atomic.Bool
}

// Done reports the call's outcome. Later calls are ignored.
func (s *Selection) Done(outcome usage.Outcome, latency time.Duration) {
	if s.sel == nil || !s.done.CompareAndSwap(false, true) {
		return
	}
	s.sel.complete(s, outcome, latency)
}

// Select reserves a key. The number of reservation attempts is bounded by
// the number of eligible keys; a key whose reservation fails is removed and
// the draw is repeated over the rest.
func (s *Selector) Select(ctx context.Context) (*Selection, error) {
	view := s.pool.CurrentView()
	candidates := s.filter(view.Eligible())

	bound := len(candidates)
	if s.maxRetries > 0 && s.maxRetries < bound {
		bound = s.maxRetries
	}

	attempts := 0
	for attempts < bound && len(candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		i := s.pick(candidates)
		k := candidates[i]

		res, ok, err := s.limiter.TryReserve(ctx, k.ID)
		if err != nil {
			s.logger.Warn("reservation error, treating key as exhausted",
				"key_id", k.ID,
				"error", err,
			)
		}
		if ok {
			s.observer.ObserveSelection(k.ID, attempts)
			return &Selection{
				KeyID:       k.ID,
				Credential:  k.Credential,
				Weight:      k.Weight,
				ViewVersion: view.Version,
				Attempts:    attempts,
				ReservedAt:  reservedAt(res),
				reservation: res,
				sel:         s,
			}, nil
		}

		s.observer.ObserveRejection(k.ID)
		candidates = slices.Delete(candidates, i, i+1)
	}

	s.observer.ObserveExhausted()
	return nil, &AllKeysExhaustedError{
		Considered: len(view.Eligible()),
		Attempts:   attempts,
		RetryAfter: s.retryAfter(view),
	}
}

// filter drops keys with no remaining budget when the limiter can answer
// locally. Remote limiters are left to the reservation loop.
func (s *Selector) filter(eligible []keypool.KeyRecord) []keypool.KeyRecord {
	local, ok := s.limiter.(ratelimit.Local)
	if !ok {
		return eligible
	}

	out := eligible[:0]
	for _, k := range eligible {
		if u, known := local.Usage(k.ID); known && u.Remaining > 0 {
			out = append(out, k)
			continue
		}
		s.logger.Debug("key excluded, no remaining budget", "key_id", k.ID)
	}
	return out
}

// pick draws an index with probability proportional to weight. Boundaries
// resolve to the lower index.
func (s *Selector) pick(candidates []keypool.KeyRecord) int {
	prefix := make([]int64, len(candidates))
	var total int64
	for i, k := range candidates {
		total += int64(k.Weight)
		prefix[i] = total
	}

	s.rngMu.Lock()
	r := s.rng.Int64N(total)
	s.rngMu.Unlock()

	return sort.Search(len(prefix), func(i int) bool { return prefix[i] > r })
}

func (s *Selector) retryAfter(view *keypool.View) time.Duration {
	local, ok := s.limiter.(ratelimit.Local)
	if !ok {
		return 0
	}
	var best time.Duration
	for _, k := range view.Eligible() {
		d := local.RetryAfter(k.ID)
		if d > 0 && (best == 0 || d < best) {
			best = d
		}
	}
	return best
}

func (s *Selector) complete(sel *Selection, outcome usage.Outcome, latency time.Duration) {
	if s.recorder != nil {
		s.recorder.Record(sel.KeyID, outcome, latency)
	}
	s.observer.ObserveOutcome(sel.KeyID, outcome, latency)

	if outcome == usage.Failure && s.releaseOnFailure {
		if err := s.limiter.Release(context.Background(), sel.reservation); err != nil {
			s.logger.Warn("failed to release reservation", "key_id", sel.KeyID, "error", err)
		}
	}
}

func reservedAt(r ratelimit.Reservation) time.Time {
	if r.At.IsZero() {
		return time.Now()
	}
	return r.At
}
