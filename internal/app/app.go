// Package app assembles the keyweave components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/export"
	"mercator-hq/keyweave/pkg/audit/storage"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/monitor"
	"mercator-hq/keyweave/pkg/optimizer"
	"mercator-hq/keyweave/pkg/presets"
	"mercator-hq/keyweave/pkg/ratelimit"
	"mercator-hq/keyweave/pkg/scheduler"
	"mercator-hq/keyweave/pkg/selector"
	"mercator-hq/keyweave/pkg/server"
	"mercator-hq/keyweave/pkg/snapshot"
	"mercator-hq/keyweave/pkg/telemetry/health"
	"mercator-hq/keyweave/pkg/telemetry/metrics"
	"mercator-hq/keyweave/pkg/telemetry/tracing"
	"mercator-hq/keyweave/pkg/usage"
	"mercator-hq/keyweave/pkg/weights"
)

// Scheduled job names.
const (
	JobRebalance    = "rebalance"
	JobAuditArchive = "audit-archive"
	JobMonitor      = "monitor"
)

// Options tune Build. The zero value is usable.
type Options struct {
	// ConfigPath is watched for changes when watch.enabled is set.
	ConfigPath string

	// Registry receives the metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry

	// SpanExporter replaces the OTLP exporter when tracing is enabled.
	SpanExporter sdktrace.SpanExporter

	Version   string
	Commit    string
	BuildTime string
}

// App is a fully wired keyweave instance.
type App struct {
	Audit     *audit.Log
	Pool      *keypool.Pool
	Limiter   ratelimit.Backend
	Usage     *usage.Recorder
	Selector  *selector.Selector
	Optimizer *optimizer.Optimizer
	Snapshots *snapshot.Manager
	Presets   *presets.Store
	Weights   *weights.Service
	Monitor   *monitor.Monitor
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Collector
	Health    *health.Checker
	Tracer    *tracing.Tracer
	Server    *server.Server

	opts Options

	reloadMu sync.Mutex

	// closers run in reverse order on Close.
	closers   []func() error
	closeOnce sync.Once
	closeErr  error

	logger *slog.Logger
}

// Build constructs every component from cfg and installs cfg as the
// current configuration. cfg must already be validated. On error the
// components built so far are closed.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{
		opts:   opts,
		logger: slog.Default().With("component", "app"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.buildTelemetry(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.buildCore(cfg); err != nil {
		return nil, err
	}
	if err := a.buildJobs(cfg); err != nil {
		return nil, err
	}

	config.SetConfig(cfg)

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = a.Metrics
	}
	a.Server = server.New(cfg.Server, server.Deps{
		Weights:   a.Weights,
		Audit:     a.Audit,
		Health:    a.Health,
		Metrics:   collector,
		Tracer:    a.Tracer.Tracer(),
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildTime: opts.BuildTime,
	})

	a.logger.Info("keyweave assembled",
		"keys", a.Pool.CurrentView().Len(),
		"rate_limit_backend", cfg.RateLimit.Backend,
		"audit_backend", cfg.Audit.Backend,
		"snapshot_backend", cfg.Snapshot.Backend,
		"jobs", len(a.Scheduler.Entries()),
	)
	return a, nil
}

func (a *App) buildTelemetry(ctx context.Context, cfg *config.Config) error {
	var topts []tracing.Option
	if a.opts.Version != "" {
		topts = append(topts, tracing.WithServiceVersion(a.opts.Version))
	}
	if a.opts.SpanExporter != nil {
		topts = append(topts, tracing.WithExporter(a.opts.SpanExporter))
	}
	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, topts...)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.Tracer = tracer
	a.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(sctx)
	})

	registry := a.opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	a.Metrics = metrics.NewCollector(cfg.Telemetry.Metrics, registry)
	a.Health = health.New(cfg.Telemetry.Health.CheckTimeout)
	return nil
}

func (a *App) buildCore(cfg *config.Config) error {
	auditStorage, err := openAuditStorage(cfg.Audit)
	if err != nil {
		return err
	}
	if s, ok := auditStorage.(*storage.SQLiteStorage); ok {
		a.Health.RegisterCheck("audit_storage", s.Ping)
	}
	a.Audit = audit.NewLog(auditStorage, audit.LogOptions{
		DefaultLimit: cfg.Audit.Query.DefaultLimit,
		MaxLimit:     cfg.Audit.Query.MaxLimit,
	})
	a.onClose(a.Audit.Close)

	pool, err := keypool.New(weights.KeysFromConfig(cfg.Keys), a.Metrics.WrapAppender(a.Audit))
	if err != nil {
		return fmt.Errorf("failed to initialize key pool: %w", err)
	}
	a.Pool = pool
	unbind := a.Metrics.BindPool(pool)
	a.onClose(func() error { unbind(); return nil })

	limiter, err := a.openLimiter(cfg.RateLimit, pool.CurrentView().Limits())
	if err != nil {
		return err
	}
	a.Limiter = limiter

	a.Usage = usage.NewRecorder(&usage.Config{
		Window:      cfg.Usage.Window,
		BucketSize:  cfg.Usage.BucketSize,
		AsyncBuffer: cfg.Usage.AsyncBuffer,
	})
	a.onClose(a.Usage.Close)

	sopts := []selector.Option{
		selector.WithMaxRetries(cfg.Selector.MaxRetries),
		selector.WithObserver(a.Metrics),
		selector.WithRecorder(a.Usage),
		selector.WithReleaseOnFailure(cfg.RateLimit.ReleaseOnFailure),
	}
	if cfg.Selector.Seed != 0 {
		sopts = append(sopts, selector.WithSeed(cfg.Selector.Seed))
	}
	a.Selector = selector.New(pool, limiter, sopts...)

	a.Optimizer = optimizer.New(pool, a.Usage, weights.OptimizerConfigFrom(cfg.Optimizer))

	store, err := openSnapshotStore(cfg.Snapshot)
	if err != nil {
		return err
	}
	if s, ok := store.(*snapshot.SQLiteStore); ok {
		a.Health.RegisterCheck("snapshot_storage", s.Ping)
	}
	a.Snapshots = snapshot.NewManager(store, pool)
	a.onClose(a.Snapshots.Close)

	if cfg.Presets.Path != "" {
		if a.Presets, err = presets.NewStore(cfg.Presets.Path); err != nil {
			return fmt.Errorf("failed to open presets: %w", err)
		}
	}

	policy, err := weights.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	if policy.DefaultStrategy != "" {
		if _, err := a.Optimizer.Registry().Lookup(policy.DefaultStrategy); err != nil {
			return fmt.Errorf("optimizer.default_strategy: %w", err)
		}
	}
	a.Weights = weights.NewService(weights.Deps{
		Pool:      pool,
		Limiter:   limiter,
		Usage:     a.Usage,
		Optimizer: a.Optimizer,
		Snapshots: a.Snapshots,
		Presets:   a.Presets,
	}, policy, weights.WithTracer(a.Tracer.Tracer()))
	a.Health.SetPool(a.Weights)

	a.Monitor = monitor.New(pool, a.Usage, cfg.Usage.FailureThreshold)
	return nil
}

func (a *App) buildJobs(cfg *config.Config) error {
	a.Scheduler = scheduler.New()

	if err := a.Scheduler.Add(JobRebalance, cfg.Optimizer.Schedule, func(ctx context.Context) error {
		if err := a.Usage.Flush(ctx); err != nil {
			return err
		}
		_, err := a.Weights.Rebalance(ctx, weights.Actor{}, "", false)
		return err
	}); err != nil {
		return err
	}

	if cfg.Audit.Archive.Schedule != "" {
		archiver, err := export.NewArchiver(a.Audit, cfg.Audit.Archive.Path, cfg.Audit.Archive.Format)
		if err != nil {
			return fmt.Errorf("audit.archive: %w", err)
		}
		if err := a.Scheduler.Add(JobAuditArchive, cfg.Audit.Archive.Schedule, func(ctx context.Context) error {
			_, _, err := archiver.Archive(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	if cfg.Monitor.IsEnabled() {
		if err := a.Scheduler.Add(JobMonitor, cfg.Monitor.Schedule, a.Monitor.Run); err != nil {
			return err
		}
	}
	return nil
}

func openAuditStorage(cfg config.AuditConfig) (audit.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		s, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

func openSnapshotStore(cfg config.SnapshotConfig) (snapshot.Store, error) {
	switch cfg.Backend {
	case "memory":
		return snapshot.NewMemoryStore(), nil
	case "sqlite":
		s, err := snapshot.NewSQLiteStore(snapshot.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

func (a *App) openLimiter(cfg config.RateLimitConfig, limits map[string]int) (ratelimit.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return ratelimit.NewLimiter(cfg.Window, limits), nil
	case "redis":
		r := ratelimit.DialRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, ratelimit.RedisOptions{
			Window:  cfg.Window,
			Prefix:  cfg.Redis.KeyPrefix,
			Timeout: cfg.Redis.Timeout,
		})
		r.Configure(limits)
		a.onClose(r.Close)
		a.Health.RegisterCheck("redis", r.Ping)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

// Run starts the scheduled jobs, the config watcher when enabled, and the
// API server, and blocks until ctx is done or the server fails. Run does
// not close the components; call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	cfg := config.GetConfig()
	if cfg.Watch.Enabled && a.opts.ConfigPath != "" {
		w, err := config.NewWatcher(a.opts.ConfigPath, cfg.Watch.Debounce, a.logger)
		if err != nil {
			return err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := w.Watch(ctx, func(next *config.Config) error {
				return a.Reload(ctx, next)
			}); err != nil {
				a.logger.Error("config watcher stopped", "error", err)
			}
		}()
		defer func() {
			cancel()
			<-done
			w.Stop()
		}()
	}

	return a.Server.Start(ctx)
}

// Reload applies a changed configuration file. Only the keys, the
// optimizer policy and the snapshot threshold take effect; other sections
// need a restart.
func (a *App) Reload(ctx context.Context, next *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	res, err := a.Weights.ApplyConfig(ctx, weights.Actor{
		Operator: "config",
		Source:   audit.SourceConfigFile,
	}, next)
	if err != nil {
		return err
	}
	config.SetConfig(next)
	a.logger.Info("configuration applied",
		"changes", len(res.Records),
		"view_version", res.ViewVersion,
	)
	return nil
}

// Close releases every component in reverse construction order.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}
