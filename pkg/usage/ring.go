package usage

import "time"

// ring is a fixed circular buffer of time buckets. A bucket's slot is
// derived from its start time, so a stale bucket is recognized by its start
// and reset on reuse. Memory per key is window/bucketSize buckets
// regardless of traffic.
type ring struct {
	bucketSize time.Duration
	window     time.Duration
	buckets    []bucket

	consecutiveFailures int
	lastUsed            time.Time
}

type bucket struct {
	start   time.Time
	success int64
	failure int64
	latency time.Duration
}

func newRing(window, bucketSize time.Duration) *ring {
	n := int(window / bucketSize)
	if n < 1 {
		n = 1
	}
	return &ring{
		bucketSize: bucketSize,
		window:     window,
		buckets:    make([]bucket, n),
	}
}

func (r *ring) add(at time.Time, outcome Outcome, latency time.Duration) {
	start := at.Truncate(r.bucketSize)
	b := &r.buckets[r.slot(start)]
	if !b.start.Equal(start) {
		if b.start.After(start) {
			// Older than anything the slot now holds; outside the window.
			return
		}
		*b = bucket{start: start}
	}

	if outcome == Failure {
		b.failure++
		r.consecutiveFailures++
	} else {
		b.success++
		r.consecutiveFailures = 0
	}
	b.latency += latency

	if at.After(r.lastUsed) {
		r.lastUsed = at
	}
}

func (r *ring) stats(keyID string, now time.Time) Stats {
	s := Stats{
		KeyID:               keyID,
		Window:              r.window,
		ConsecutiveFailures: r.consecutiveFailures,
		LastUsed:            r.lastUsed,
	}
	oldest := now.Truncate(r.bucketSize).Add(-r.window + r.bucketSize)
	for _, b := range r.buckets {
		if b.start.IsZero() || b.start.Before(oldest) || b.start.After(now) {
			continue
		}
		s.SuccessCount += b.success
		s.FailureCount += b.failure
		s.TotalLatency += b.latency
	}
	s.SampleCount = s.SuccessCount + s.FailureCount
	return s
}

func (r *ring) slot(start time.Time) int {
	idx := (start.UnixNano() / int64(r.bucketSize)) % int64(len(r.buckets))
	if idx < 0 {
		idx += int64(len(r.buckets))
	}
	return int(idx)
}
