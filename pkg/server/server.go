package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/server/middleware"
	"mercator-hq/keyweave/pkg/telemetry/health"
	"mercator-hq/keyweave/pkg/telemetry/metrics"
	"mercator-hq/keyweave/pkg/weights"
)

// ConfigStore holds the configuration document served by /api/config.
type ConfigStore interface {
	Current() *config.Config
	Store(cfg *config.Config)
}

// globalStore is the ConfigStore backed by the config package singleton.
type globalStore struct{}

func (globalStore) Current() *config.Config  { return config.GetConfig() }
func (globalStore) Store(cfg *config.Config) { config.SetConfig(cfg) }

// Deps are the components the API serves. Weights and Audit are required.
type Deps struct {
	Weights *weights.Service
	Audit   *audit.Log

	// Health serves /health and /health/live when set.
	Health *health.Checker

	// Metrics serves /metrics and records request metrics when set.
	Metrics *metrics.Collector

	// Config defaults to the config package singleton.
	Config ConfigStore

	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer

	Version   string
	Commit    string
	BuildTime string
}

// Server is the management API server.
type Server struct {
	config config.ServerConfig
	deps   Deps

	handler    http.Handler
	httpServer *http.Server

	// configMu serializes PUT /api/config.
	configMu sync.Mutex

	mu           sync.Mutex
	running      bool
	addr         net.Addr
	shutdownOnce sync.Once

	logger *slog.Logger
}

// New creates a server. Routes are built immediately, so Handler can be
// used without Start.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = globalStore{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("keyweave/server")
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until ctx is done,
// a shutdown signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.running = true
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting management server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	return s.Shutdown(context.Background())
}

// Shutdown gracefully stops the server within the configured shutdown
// timeout. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		running := s.running
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Info("management server stopped")
	})
	return shutdownErr
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)

	mux.HandleFunc("GET /api/weights/stats", s.handleStats)
	mux.HandleFunc("GET /api/weights/distribution", s.handleDistribution)
	mux.HandleFunc("GET /api/weights/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/weights/optimize", s.handleOptimize)
	mux.HandleFunc("PUT /api/weights/{id}", s.handleSetKey)
	mux.HandleFunc("POST /api/weights/batch", s.handleBatch)
	mux.HandleFunc("POST /api/weights/rebalance", s.handleRebalance)
	mux.HandleFunc("POST /api/weights/apply", s.handleApply)
	mux.HandleFunc("POST /api/weights/normalize", s.handleNormalize)
	mux.HandleFunc("POST /api/weights/distribute", s.handleDistribute)

	mux.HandleFunc("GET /api/audit", s.handleAuditQuery)
	mux.HandleFunc("GET /api/audit/stats", s.handleAuditStats)
	mux.HandleFunc("GET /api/audit/export", s.handleAuditExport)
	mux.HandleFunc("GET /api/audit/trend/{id}", s.handleAuditTrend)

	mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
	mux.HandleFunc("POST /api/snapshots", s.handleCreateSnapshot)
	mux.HandleFunc("GET /api/snapshots/{id}", s.handleGetSnapshot)
	mux.HandleFunc("POST /api/snapshots/{id}/rollback", s.handleRollback)

	mux.HandleFunc("GET /api/presets", s.handleListPresets)
	mux.HandleFunc("POST /api/presets", s.handleCreatePreset)
	mux.HandleFunc("GET /api/presets/{id}", s.handleGetPreset)
	mux.HandleFunc("DELETE /api/presets/{id}", s.handleDeletePreset)
	mux.HandleFunc("POST /api/presets/{id}/apply", s.handleApplyPreset)

	mux.HandleFunc("GET /api/strategies", s.handleStrategies)

	if s.deps.Health != nil {
		health.Register(mux, s.deps.Health, s.deps.Version, s.deps.Commit, s.deps.BuildTime)
	}

	var observer middleware.RequestObserver
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
		observer = s.deps.Metrics
	}

	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			middleware.SetRoute(r.Context(), pattern)
		}
		mux.ServeHTTP(w, r)
	})

	var handler http.Handler = routed
	handler = middleware.Timeout(s.config.WriteTimeout)(handler)
	handler = middleware.CORS(s.config.CORS)(handler)
	handler = middleware.Tracing(s.deps.Tracer)(handler)
	handler = middleware.Logging(observer)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)
	return handler
}
