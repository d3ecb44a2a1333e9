package selector

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/keyweave/internal/keytest"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/ratelimit"
	"mercator-hq/keyweave/pkg/usage"
)

const unlimited = 1 << 20

func limiterFor(p *keypool.Pool) *ratelimit.Limiter {
	return ratelimit.NewLimiter(time.Minute, p.CurrentView().Limits())
}

// TestSelect_DistributionMatchesWeights runs a chi-squared goodness-of-fit
// test of observed selections against weight shares.
func TestSelect_DistributionMatchesWeights(t *testing.T) {
	p, _ := keytest.Pool(t,
		keytest.Key("a", 100, unlimited),
		keytest.Key("b", 300, unlimited),
		keytest.Key("c", 600, unlimited),
	)
	s := New(p, limiterFor(p), WithSeed(42))

	const n = 60000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		sel, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		counts[sel.KeyID]++
	}

	shares := p.CurrentView().Shares()
	chi2 := 0.0
	for id, share := range shares {
		expected := share * n
		diff := float64(counts[id]) - expected
		chi2 += diff * diff / expected
	}

	// Critical value for 2 degrees of freedom at p = 0.001.
	if chi2 > 13.816 {
		t.Errorf("chi-squared = %.2f exceeds 13.816; counts = %v", chi2, counts)
	}
}

func TestSelect_SkipsIneligibleKeys(t *testing.T) {
	disabled := keytest.Key("off", 500, unlimited)
	disabled.Enabled = false
	p, _ := keytest.Pool(t,
		keytest.Key("zero", 0, unlimited),
		disabled,
		keytest.Key("on", 1, unlimited),
	)
	s := New(p, limiterFor(p), WithSeed(7))

	for i := 0; i < 200; i++ {
		sel, err := s.Select(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if sel.KeyID != "on" {
			t.Fatalf("selected %s, want only 'on'", sel.KeyID)
		}
	}
}

func TestSelect_SingleKeyBudget(t *testing.T) {
	clock := keytest.NewClock()
	p, _ := keytest.Pool(t, keytest.Key("c", 100, 60))
	limiter := ratelimit.NewLimiter(time.Minute, p.CurrentView().Limits(), ratelimit.WithClock(clock.Now))
	s := New(p, limiter, WithSeed(1))

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		if _, err := s.Select(ctx); err != nil {
			t.Fatalf("reservation %d failed: %v", i+1, err)
		}
		clock.Advance(500 * time.Millisecond)
	}

	_, err := s.Select(ctx)
	if !errors.Is(err, ErrAllKeysExhausted) {
		t.Fatalf("61st Select() error = %v, want ErrAllKeysExhausted", err)
	}
	var exhausted *AllKeysExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatal("expected *AllKeysExhaustedError")
	}
	// The first reservation was at t=0 and the clock is now at 30s.
	if exhausted.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", exhausted.RetryAfter)
	}
}

func TestSelect_NoEligibleKeys(t *testing.T) {
	p, _ := keytest.Pool(t, keytest.Key("a", 0, 10))
	s := New(p, limiterFor(p))

	_, err := s.Select(context.Background())
	var exhausted *AllKeysExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 0 || exhausted.Considered != 0 {
		t.Errorf("error = %v (%+v)", err, exhausted)
	}
}

// flakyLimiter refuses reservations for some keys even though it reports
// capacity, as happens when another replica wins the race.
type flakyLimiter struct {
	refuse   map[string]bool
	attempts atomic.Int64
	released atomic.Int64
}

func (f *flakyLimiter) TryReserve(_ context.Context, keyID string) (ratelimit.Reservation, bool, error) {
	f.attempts.Add(1)
	if f.refuse[keyID] {
		return ratelimit.Reservation{}, false, nil
	}
	return ratelimit.Reservation{KeyID: keyID}, true, nil
}
func (f *flakyLimiter) Remaining(context.Context, string) (int, error) { return 1, nil }
func (f *flakyLimiter) Release(context.Context, ratelimit.Reservation) error {
	f.released.Add(1)
	return nil
}
func (f *flakyLimiter) Configure(map[string]int)    {}
func (f *flakyLimiter) Reset(context.Context) error { return nil }

func TestSelect_RetriesOnLostReservation(t *testing.T) {
	p, _ := keytest.Pool(t,
		keytest.Key("a", 1000, 10),
		keytest.Key("b", 1, 10),
	)
	lim := &flakyLimiter{refuse: map[string]bool{"a": true}}
	s := New(p, lim, WithSeed(3))

	for i := 0; i < 50; i++ {
		sel, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if sel.KeyID != "b" {
			t.Fatalf("selected %s, want b", sel.KeyID)
		}
		if sel.Attempts > 2 {
			t.Fatalf("Attempts = %d, want <= 2", sel.Attempts)
		}
	}
}

func TestSelect_RetryBound(t *testing.T) {
	p, _ := keytest.Pool(t,
		keytest.Key("a", 1, 10),
		keytest.Key("b", 1, 10),
		keytest.Key("c", 1, 10),
	)

	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{"default is eligible count", 0, 3},
		{"explicit cap", 2, 2},
		{"cap above eligible count", 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lim := &flakyLimiter{refuse: map[string]bool{"a": true, "b": true, "c": true}}
			s := New(p, lim, WithMaxRetries(tt.maxRetries))

			_, err := s.Select(context.Background())
			var exhausted *AllKeysExhaustedError
			if !errors.As(err, &exhausted) {
				t.Fatalf("error = %v", err)
			}
			if exhausted.Attempts != tt.want || lim.attempts.Load() != int64(tt.want) {
				t.Errorf("attempts = %d (limiter saw %d), want %d", exhausted.Attempts, lim.attempts.Load(), tt.want)
			}
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	p, _ := keytest.Pool(t,
		keytest.Key("a", 10, unlimited),
		keytest.Key("b", 20, unlimited),
		keytest.Key("c", 30, unlimited),
	)

	run := func() []string {
		s := New(p, limiterFor(p), WithSeed(99))
		var out []string
		for i := 0; i < 100; i++ {
			sel, err := s.Select(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, sel.KeyID)
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sequences diverge at %d: %s vs %s", i, first[i], second[i])
		}
	}
}

// zeroSource always yields zero, so every draw lands on the first boundary.
type zeroSource struct{}

func (zeroSource) Uint64() uint64 { return 0 }

func TestPick_BoundaryResolvesToLowerIndex(t *testing.T) {
	s := New(nil, nil, WithRand(rand.New(zeroSource{})))
	candidates := []keypool.KeyRecord{{ID: "a", Weight: 1}, {ID: "b", Weight: 1}}
	for i := 0; i < 10; i++ {
		if got := s.pick(candidates); got != 0 {
			t.Fatalf("pick() = %d, want 0", got)
		}
	}
}

func TestSelect_CancelledContext(t *testing.T) {
	p, _ := keytest.Pool(t, keytest.Key("a", 1, 10))
	s := New(p, limiterFor(p))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Select(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

type countingObserver struct {
	mu        sync.Mutex
	selected  map[string]int
	rejected  map[string]int
	exhausted int
	outcomes  map[usage.Outcome]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		selected: map[string]int{},
		rejected: map[string]int{},
		outcomes: map[usage.Outcome]int{},
	}
}

func (o *countingObserver) ObserveSelection(id string, _ int) {
	o.mu.Lock()
	o.selected[id]++
	o.mu.Unlock()
}
func (o *countingObserver) ObserveRejection(id string) {
	o.mu.Lock()
	o.rejected[id]++
	o.mu.Unlock()
}
func (o *countingObserver) ObserveExhausted() {
	o.mu.Lock()
	o.exhausted++
	o.mu.Unlock()
}
func (o *countingObserver) ObserveOutcome(_ string, out usage.Outcome, _ time.Duration) {
	o.mu.Lock()
	o.outcomes[out]++
	o.mu.Unlock()
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []usage.Outcome
}

func (f *fakeRecorder) Record(_ string, o usage.Outcome, _ time.Duration) {
	f.mu.Lock()
	f.events = append(f.events, o)
	f.mu.Unlock()
}

func TestSelection_Done(t *testing.T) {
	p, _ := keytest.Pool(t, keytest.Key("a", 1, 10))

	tests := []struct {
		name         string
		release      bool
		outcome      usage.Outcome
		wantReleased int64
	}{
		{"success keeps reservation", true, usage.Success, 0},
		{"failure kept by default", false, usage.Failure, 0},
		{"failure released when enabled", true, usage.Failure, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lim := &flakyLimiter{}
			rec := &fakeRecorder{}
			obs := newCountingObserver()
			s := New(p, lim, WithRecorder(rec), WithObserver(obs), WithReleaseOnFailure(tt.release))

			sel, err := s.Select(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			sel.Done(tt.outcome, 10*time.Millisecond)
			sel.Done(tt.outcome, 10*time.Millisecond) // ignored

			if len(rec.events) != 1 || rec.events[0] != tt.outcome {
				t.Errorf("recorded %v, want one %v", rec.events, tt.outcome)
			}
			if lim.released.Load() != tt.wantReleased {
				t.Errorf("released %d, want %d", lim.released.Load(), tt.wantReleased)
			}
			if obs.outcomes[tt.outcome] != 1 || obs.selected["a"] != 1 {
				t.Errorf("observer = %+v", obs)
			}
		})
	}
}

// TestSelection_ReleaseAfterWindow finishes a call whose reservation has
// already expired. Releasing it must not give the key an extra slot.
func TestSelection_ReleaseAfterWindow(t *testing.T) {
	p, _ := keytest.Pool(t, keytest.Key("a", 1, 2))
	clock := keytest.NewClock()
	limiter := ratelimit.NewLimiter(time.Minute, p.CurrentView().Limits(), ratelimit.WithClock(clock.Now))
	s := New(p, limiter, WithReleaseOnFailure(true))
	ctx := context.Background()

	slow, err := s.Select(ctx) // t=0
	if err != nil {
		t.Fatal(err)
	}
	if !slow.ReservedAt.Equal(keytest.Epoch) {
		t.Errorf("ReservedAt = %v, want %v", slow.ReservedAt, keytest.Epoch)
	}
	clock.Advance(30 * time.Second)
	if _, err := s.Select(ctx); err != nil { // t=30
		t.Fatal(err)
	}
	clock.Advance(35 * time.Second)
	if _, err := s.Select(ctx); err != nil { // t=65
		t.Fatal(err)
	}

	clock.Advance(5 * time.Second)
	slow.Done(usage.Failure, 70*time.Second)

	if _, err := s.Select(ctx); !errors.Is(err, ErrAllKeysExhausted) {
		t.Errorf("Select() after late release error = %v, want ErrAllKeysExhausted", err)
	}
}

func TestSelect_ObserverSeesRejectionsAndExhaustion(t *testing.T) {
	p, _ := keytest.Pool(t, keytest.Key("a", 1, 10), keytest.Key("b", 1, 10))
	obs := newCountingObserver()
	lim := &flakyLimiter{refuse: map[string]bool{"a": true, "b": true}}
	s := New(p, lim, WithObserver(obs))

	s.Select(context.Background())

	if obs.rejected["a"] != 1 || obs.rejected["b"] != 1 || obs.exhausted != 1 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestSelect_Concurrent(t *testing.T) {
	const limit = 50
	p, _ := keytest.Pool(t, keytest.Key("a", 1, limit), keytest.Key("b", 3, limit))
	s := New(p, limiterFor(p))

	var ok, exhausted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := s.Select(context.Background()); err == nil {
					ok.Add(1)
				} else if errors.Is(err, ErrAllKeysExhausted) {
					exhausted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 2*limit {
		t.Errorf("admitted %d, want %d", ok.Load(), 2*limit)
	}
	if ok.Load()+exhausted.Load() != 200 {
		t.Errorf("admitted %d + exhausted %d != 200", ok.Load(), exhausted.Load())
	}
}
