package ratelimit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Limiter is an in-process sliding-log limiter. Each key keeps the
// timestamps of its accepted reservations, so the count over any window is
// exact rather than approximated by buckets.
//
// Timestamps come from time.Now by default and are compared with Sub, which
// uses the monotonic clock reading and ignores wall-clock adjustments.
//
// # Thread Safety
//
// The key table is guarded by a RWMutex that is only write-locked by
// Configure. Each key has its own mutex, so reservations on different keys
// never contend.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.RWMutex
	keys map[string]*keyLog
}

type keyLog struct {
	mu     sync.Mutex
	limit  int
	stamps []time.Time // ascending
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter with the given window and per-key limits.
// A non-positive window uses DefaultWindow.
//
// Example:
//
//	limiter := ratelimit.NewLimiter(time.Minute, map[string]int{
//	    "key-a": 60,
//	    "key-b": 120,
//	})
func NewLimiter(window time.Duration, limits map[string]int, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		window: window,
		now:    time.Now,
		keys:   make(map[string]*keyLog, len(limits)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Configure(limits)
	return l
}

// TryReserve implements Backend.
func (l *Limiter) TryReserve(_ context.Context, keyID string) (Reservation, bool, error) {
	k := l.lookup(keyID)
	if k == nil {
		return Reservation{}, false, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Read the clock under the key lock so stamps stay ascending.
	now := l.now()
	k.pruneLocked(now, l.window)
	if len(k.stamps) >= k.limit {
		return Reservation{}, false, nil
	}
	k.stamps = append(k.stamps, now)
	return Reservation{KeyID: keyID, At: now}, true, nil
}

// Remaining implements Backend. Unknown keys have no remaining capacity.
func (l *Limiter) Remaining(_ context.Context, keyID string) (int, error) {
	u, ok := l.Usage(keyID)
	if !ok {
		return 0, nil
	}
	return u.Remaining, nil
}

// Usage returns the key's current window position.
func (l *Limiter) Usage(keyID string) (Usage, bool) {
	k := l.lookup(keyID)
	if k == nil {
		return Usage{}, false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.pruneLocked(l.now(), l.window)
	used := len(k.stamps)
	remaining := k.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{Limit: k.limit, Used: used, Remaining: remaining}, true
}

// Release implements Backend. Stamps taken at the same instant expire
// together, so any one of them stands for r.
func (l *Limiter) Release(_ context.Context, r Reservation) error {
	k := l.lookup(r.KeyID)
	if k == nil {
		return ErrUnknownKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.pruneLocked(l.now(), l.window)
	i := sort.Search(len(k.stamps), func(i int) bool {
		return !k.stamps[i].Before(r.At)
	})
	if i < len(k.stamps) && k.stamps[i].Equal(r.At) {
		k.stamps = slices.Delete(k.stamps, i, i+1)
	}
	return nil
}

// Configure implements Backend. A lowered limit takes effect immediately:
// existing reservations are kept and new ones are refused until enough of
// them age out.
func (l *Limiter) Configure(limits map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id := range l.keys {
		if _, ok := limits[id]; !ok {
			delete(l.keys, id)
		}
	}
	for id, limit := range limits {
		if limit < 0 {
			limit = 0
		}
		if k, ok := l.keys[id]; ok {
			k.mu.Lock()
			k.limit = limit
			k.mu.Unlock()
			continue
		}
		l.keys[id] = &keyLog{limit: limit, stamps: make([]time.Time, 0, min(limit, 64))}
	}
}

// Reset implements Backend.
func (l *Limiter) Reset(context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, k := range l.keys {
		k.mu.Lock()
		k.stamps = k.stamps[:0]
		k.mu.Unlock()
	}
	return nil
}

// Window returns the admission window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

func (l *Limiter) lookup(keyID string) *keyLog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.keys[keyID]
}

// pruneLocked drops reservations at least one window old.
// Caller must hold k.mu.
func (k *keyLog) pruneLocked(now time.Time, window time.Duration) {
	i := sort.Search(len(k.stamps), func(i int) bool {
		return now.Sub(k.stamps[i]) < window
	})
	if i == 0 {
		return
	}
	n := copy(k.stamps, k.stamps[i:])
	k.stamps = k.stamps[:n]
}

// RetryAfter returns how long until the key regains a slot. It is zero when
// a slot is free now or the key is unknown.
func (l *Limiter) RetryAfter(keyID string) time.Duration {
	k := l.lookup(keyID)
	if k == nil {
		return 0
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := l.now()
	k.pruneLocked(now, l.window)
	if k.limit <= 0 || len(k.stamps) < k.limit {
		return 0
	}
	// The slot frees when the oldest stamp that keeps the log full expires.
	oldest := k.stamps[len(k.stamps)-k.limit]
	return l.window - now.Sub(oldest)
}
