package middleware

import (
	"encoding/json"
	"net/http"
	"time"
)

// Timeout bounds handler execution. A handler still running after d is
// abandoned and the client receives 503 with an ErrorBody. Zero disables.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	body, _ := json.Marshal(ErrorBody{Error: ErrorDetail{
		Message: "request timed out",
		Type:    TypeUnavailable,
		Code:    "timeout",
	}})
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.TimeoutHandler(next, d, string(body))
	}
}
