package selector

import (
	"errors"
	"fmt"
	"time"
)

// ErrAllKeysExhausted is returned when no key can admit the request. It is
// a backpressure signal: callers should ask clients to retry later.
var ErrAllKeysExhausted = errors.New("all keys exhausted")

// AllKeysExhaustedError describes a failed selection.
type AllKeysExhaustedError struct {
	// Considered is the number of selectable keys in the view.
	Considered int
	// Attempts is the number of reservations tried.
	Attempts int
	// RetryAfter is the earliest time a key regains capacity, when known.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *AllKeysExhaustedError) Error() string {
	return fmt.Sprintf("all keys exhausted: %d selectable, %d attempts", e.Considered, e.Attempts)
}

// Is implements error matching for errors.Is().
func (e *AllKeysExhaustedError) Is(target error) bool {
	return target == ErrAllKeysExhausted
}
