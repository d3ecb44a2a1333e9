package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config contains configuration for the usage recorder.
type Config struct {
	// Window is the span statistics cover.
	// Default: 10 minutes
	Window time.Duration

	// BucketSize is the granularity of the rolling window.
	// Default: 1 minute
	BucketSize time.Duration

	// AsyncBuffer is the size of the event queue. Events recorded while the
	// queue is full are dropped and counted.
	// Default: 4096
	AsyncBuffer int
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Window:      10 * time.Minute,
		BucketSize:  time.Minute,
		AsyncBuffer: 4096,
	}
}

type event struct {
	keyID   string
	outcome Outcome
	latency time.Duration
	at      time.Time

	flushed chan struct{} // set on flush markers only
}

// Recorder aggregates call outcomes per key. Record enqueues and returns
// immediately; a single worker applies events, so statistics lag the
// request path by at most the time to drain the queue.
type Recorder struct {
	config *Config
	now    func() time.Time

	events  chan event
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64

	mu    sync.RWMutex
	rings map[string]*ring

	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder and starts its worker.
func NewRecorder(config *Config, opts ...Option) *Recorder {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.BucketSize <= 0 || cfg.BucketSize > cfg.Window {
		cfg.BucketSize = defaults.BucketSize
		if cfg.BucketSize > cfg.Window {
			cfg.BucketSize = cfg.Window
		}
	}
	if cfg.AsyncBuffer <= 0 {
		cfg.AsyncBuffer = defaults.AsyncBuffer
	}

	r := &Recorder{
		config: &cfg,
		now:    time.Now,
		events: make(chan event, cfg.AsyncBuffer),
		done:   make(chan struct{}),
		rings:  make(map[string]*ring),
		logger: slog.Default().With("component", "usage.recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"window", cfg.Window,
		"bucket_size", cfg.BucketSize,
		"async_buffer", cfg.AsyncBuffer,
	)
	return r
}

// Record enqueues one outcome. It never blocks: if the queue is full or the
// recorder is closed, the event is dropped.
func (r *Recorder) Record(keyID string, outcome Outcome, latency time.Duration) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	ev := event{keyID: keyID, outcome: outcome, latency: latency, at: r.now()}
	select {
	case r.events <- ev:
	default:
		if r.dropped.Add(1)%1000 == 1 {
			r.logger.Warn("usage queue full, dropping events",
				"key_id", keyID,
				"dropped_total", r.dropped.Load(),
			)
		}
	}
}

// Flush blocks until every event enqueued before the call is applied, or
// ctx is done.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.closed.Load() {
		return nil
	}
	marker := event{flushed: make(chan struct{})}
	select {
	case r.events <- marker:
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.flushed:
		return nil
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatsFor returns the statistics of one key. Keys never recorded return
// zero statistics and false.
func (r *Recorder) StatsFor(keyID string) (Stats, bool) {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	rg, ok := r.rings[keyID]
	if !ok {
		return Stats{KeyID: keyID, Window: r.config.Window}, false
	}
	return rg.stats(keyID, now), true
}

// AllStats returns statistics for every key that has been recorded.
func (r *Recorder) AllStats() map[string]Stats {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.rings))
	for id, rg := range r.rings {
		out[id] = rg.stats(id, now)
	}
	return out
}

// ResetFailures clears a key's consecutive failure count, typically when an
// operator re-enables it.
func (r *Recorder) ResetFailures(keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rg, ok := r.rings[keyID]; ok {
		rg.consecutiveFailures = 0
	}
}

// Dropped returns the number of events discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Window returns the statistics window.
func (r *Recorder) Window() time.Duration {
	return r.config.Window
}

// Close drains queued events and stops the worker.
func (r *Recorder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.logger.Info("shutting down usage recorder")
	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.events:
			r.apply(ev)

		case <-r.done:
			for {
				select {
				case ev := <-r.events:
					r.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(ev event) {
	if ev.flushed != nil {
		close(ev.flushed)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.rings[ev.keyID]
	if !ok {
		rg = newRing(r.config.Window, r.config.BucketSize)
		r.rings[ev.keyID] = rg
	}
	rg.add(ev.at, ev.outcome, ev.latency)
}
