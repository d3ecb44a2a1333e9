package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mercator-hq/keyweave/pkg/telemetry/logging"
)

// UnmatchedRoute labels requests that matched no registered pattern.
const UnmatchedRoute = "unmatched"

// RequestObserver records completed requests. *metrics.Collector
// implements it.
type RequestObserver interface {
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}

type routeKey struct{}

type routeHolder struct {
	mu      sync.Mutex
	pattern string
}

func (h *routeHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pattern
}

// SetRoute records the matched route pattern for the enclosing Logging
// middleware. The server calls it from every registered handler.
func SetRoute(ctx context.Context, pattern string) {
	if h, ok := ctx.Value(routeKey{}).(*routeHolder); ok {
		h.mu.Lock()
		h.pattern = pattern
		h.mu.Unlock()
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging logs each request at completion: Info for success, Warn for 4xx
// and Error for 5xx. obs may be nil.
func Logging(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			holder := &routeHolder{pattern: UnmatchedRoute}
			ctx := context.WithValue(r.Context(), routeKey{}, holder)
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			slog.DebugContext(ctx, "request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			next.ServeHTTP(rw, r.WithContext(ctx))

			latency := time.Since(start)
			route := holder.get()
			level := slog.LevelInfo
			switch {
			case rw.status >= 500:
				level = slog.LevelError
			case rw.status >= 400:
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rw.status,
				"latency_ms", latency.Milliseconds(),
				"request_id", logging.GetRequestID(ctx),
				"user_agent", r.UserAgent(),
			)
			if obs != nil {
				obs.ObserveHTTPRequest(r.Method, route, rw.status, latency)
			}
		})
	}
}
