package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/keyweave/pkg/config"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	restricted := config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://dash.example.com"},
		AllowedMethods: []string{"GET", "PUT"},
		AllowedHeaders: []string{"Content-Type", "X-Operator"},
		MaxAge:         600,
	}

	tests := []struct {
		name       string
		cfg        config.CORSConfig
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{"disabled", config.CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodGet, "https://x.test", false, http.StatusOK, ""},
		{"allowed origin", restricted, http.MethodGet, "https://dash.example.com", false, http.StatusOK, "https://dash.example.com"},
		{"foreign origin", restricted, http.MethodGet, "https://evil.test", false, http.StatusOK, ""},
		{"wildcard", config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}, http.MethodGet, "https://x.test", false, http.StatusOK, "*"},
		{"preflight", restricted, http.MethodOptions, "https://dash.example.com", true, http.StatusNoContent, "https://dash.example.com"},
		{"plain options", restricted, http.MethodOptions, "https://dash.example.com", false, http.StatusOK, "https://dash.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/config", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "PUT")
			}
			w := httptest.NewRecorder()
			CORS(tt.cfg)(ok).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.preflight {
				if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, PUT" {
					t.Errorf("Allow-Methods = %q", got)
				}
				if got := w.Header().Get("Access-Control-Max-Age"); got != "600" {
					t.Errorf("Max-Age = %q", got)
				}
			}
		})
	}
}
