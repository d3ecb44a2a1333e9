package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mercator-hq/keyweave/pkg/weights"
)

// Status is the health of a component or of the whole process.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusDegraded Status = "degraded"
)

func (s Status) rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusDegraded:
		return 2
	}
	return 0
}

// ErrWarning marks a check failure that should not take the process out of
// rotation.
var ErrWarning = errors.New("health warning")

// ErrCheckTimeout is reported when a check does not return in time.
var ErrCheckTimeout = errors.New("health check timeout")

// Warnf returns an error that a check reports as a warning.
func Warnf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWarning, fmt.Sprintf(format, args...))
}

// CheckFunc checks one component. nil is healthy, an error wrapping
// ErrWarning is a warning and any other error is degraded.
type CheckFunc func(ctx context.Context) error

// PoolHealth reports the health of the key pool. *weights.Service
// implements it.
type PoolHealth interface {
	Health(ctx context.Context) *weights.HealthReport
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Status     Status  `json:"status"`
	Message    string  `json:"message,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Report is the aggregate health of the process.
type Report struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Pool      *weights.HealthReport  `json:"pool,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Checker runs component checks and the pool health report.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	pool   PoolHealth

	checkTimeout time.Duration
}

// New creates a checker. A zero timeout defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]CheckFunc),
		checkTimeout: checkTimeout,
	}
}

// SetPool sets the source of the pool health report.
func (c *Checker) SetPool(p PoolHealth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = p
}

// RegisterCheck registers a check under name, replacing any previous one.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// CheckCount returns the number of registered checks.
func (c *Checker) CheckCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.checks)
}

// CheckLiveness reports that the process is running.
func (c *Checker) CheckLiveness(context.Context) Report {
	return Report{Status: StatusOK, Timestamp: time.Now()}
}

// CheckReadiness runs every check concurrently and folds in the pool
// report. The overall status is the worst of them.
func (c *Checker) CheckReadiness(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	pool := c.pool
	c.mu.RUnlock()

	report := Report{
		Status:    StatusOK,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.runCheck(ctx, check)
			mu.Lock()
			report.Checks[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, r := range report.Checks {
		report.Status = worst(report.Status, r.Status)
	}

	if pool != nil {
		report.Pool = pool.Health(ctx)
		switch report.Pool.Status {
		case weights.StatusDegraded:
			report.Status = worst(report.Status, StatusDegraded)
		case weights.StatusWarning:
			report.Status = worst(report.Status, StatusWarning)
		}
	}
	return report
}

func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errChan := make(chan error, 1)
	go func() {
		errChan <- check(checkCtx)
	}()

	var err error
	select {
	case err = <-errChan:
	case <-checkCtx.Done():
		err = ErrCheckTimeout
	}

	result := CheckResult{
		Status:     StatusOK,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrWarning):
		result.Status = StatusWarning
		result.Message = err.Error()
	default:
		result.Status = StatusDegraded
		result.Message = err.Error()
	}
	return result
}

func worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}
