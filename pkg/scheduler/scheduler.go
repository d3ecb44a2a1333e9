package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Entry describes one registered job.
type Entry struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Next      time.Time `json:"next"`
	Prev      time.Time `json:"prev"`
	Runs      int64     `json:"runs"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	id       cron.EntryID

	mu      sync.Mutex
	runs    int64
	lastErr error
}

// Scheduler runs named jobs on cron schedules. A job that is still running
// when its next tick arrives skips that tick.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	running bool

	logger *slog.Logger
}

// New creates a scheduler. Schedules use the standard five-field syntax
// plus descriptors such as "@every 30s".
func New() *Scheduler {
	logger := slog.Default().With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
		logger: logger,
	}
}

// Add registers fn under name. An empty schedule registers nothing and
// returns nil, so disabled jobs need no special casing by callers.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.logger.Info("job not scheduled", "job", name)
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q for job %s: %w", schedule, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { s.run(s.jobContext(), j) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	j.id = id
	s.jobs[name] = j

	s.logger.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

// Start begins running jobs. Jobs receive ctx; the scheduler stops when ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx = ctx
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs the named job synchronously and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

// Entries lists registered jobs by name. Next is zero until the scheduler
// has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		ce := s.cron.Entry(j.id)
		j.mu.Lock()
		e := Entry{
			Name:     j.name,
			Schedule: j.schedule,
			Next:     ce.Next,
			Prev:     ce.Prev,
			Runs:     j.runs,
		}
		if j.lastErr != nil {
			e.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	start := time.Now()
	err := j.fn(ctx)

	j.mu.Lock()
	j.runs++
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", j.name, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("job completed", "job", j.name, "duration", time.Since(start))
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
