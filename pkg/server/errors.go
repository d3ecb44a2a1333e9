package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/optimizer"
	"mercator-hq/keyweave/pkg/presets"
	"mercator-hq/keyweave/pkg/selector"
	"mercator-hq/keyweave/pkg/server/middleware"
	"mercator-hq/keyweave/pkg/snapshot"
	"mercator-hq/keyweave/pkg/weights"
)

// classify maps err to a status, error type and code.
func classify(err error) (status int, errType, code string) {
	var ve config.ValidationError
	switch {
	case errors.Is(err, selector.ErrAllKeysExhausted):
		return http.StatusServiceUnavailable, middleware.TypeUnavailable, "all_keys_exhausted"
	case errors.Is(err, keypool.ErrInvalidWeight):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "invalid_weight"
	case errors.Is(err, keypool.ErrInvalidKey):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "invalid_key"
	case errors.Is(err, optimizer.ErrUnknownStrategy):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "unknown_strategy"
	case errors.Is(err, presets.ErrInvalidPreset):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "invalid_preset"
	case errors.Is(err, audit.ErrInvalidQuery):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "invalid_query"
	case errors.As(err, &ve):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "invalid_config"
	case errors.Is(err, weights.ErrInvalidRequest):
		return http.StatusBadRequest, middleware.TypeInvalidRequest, "invalid_request"
	case errors.Is(err, keypool.ErrKeyNotFound):
		return http.StatusNotFound, middleware.TypeNotFound, "key_not_found"
	case errors.Is(err, snapshot.ErrSnapshotNotFound):
		return http.StatusNotFound, middleware.TypeNotFound, "snapshot_not_found"
	case errors.Is(err, presets.ErrPresetNotFound):
		return http.StatusNotFound, middleware.TypeNotFound, "preset_not_found"
	case errors.Is(err, optimizer.ErrOptimizerBusy):
		return http.StatusConflict, middleware.TypeConflict, "optimizer_busy"
	case errors.Is(err, snapshot.ErrDuplicateSnapshot):
		return http.StatusConflict, middleware.TypeConflict, "duplicate_snapshot"
	}
	return http.StatusInternalServerError, middleware.TypeServer, "internal_error"
}

// WriteError writes err as a JSON error response. Exhausted selections
// carry a Retry-After header; internal errors are logged and their detail
// withheld from the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType, code := classify(err)
	message := err.Error()

	var exhausted *selector.AllKeysExhaustedError
	if errors.As(err, &exhausted) {
		secs := int(math.Ceil(exhausted.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = "An internal error occurred. Please try again later."
	}
	middleware.WriteError(w, status, errType, code, message)
}

func badRequest(field, format string, args ...any) error {
	return &weights.InvalidRequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}
