package weights

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned when a request is malformed before any
// pool state is consulted.
var ErrInvalidRequest = errors.New("invalid request")

// InvalidRequestError names the offending field.
type InvalidRequestError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is().
func (e *InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func invalid(field, format string, args ...any) error {
	return &InvalidRequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}
