package keypool

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when a mutation references an unknown key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidWeight is returned for negative weights.
	ErrInvalidWeight = errors.New("invalid weight")

	// ErrInvalidKey is returned when a key definition is malformed.
	ErrInvalidKey = errors.New("invalid key definition")
)

// KeyNotFoundError reports the unknown key id.
type KeyNotFoundError struct {
	KeyID string
}

// Error implements the error interface.
func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: %s", e.KeyID)
}

// Is implements error matching for errors.Is().
func (e *KeyNotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}

// InvalidWeightError reports a rejected weight.
type InvalidWeightError struct {
	KeyID  string
	Weight int
}

// Error implements the error interface.
func (e *InvalidWeightError) Error() string {
	return fmt.Sprintf("invalid weight %d for key %s: must be >= 0", e.Weight, e.KeyID)
}

// Is implements error matching for errors.Is().
func (e *InvalidWeightError) Is(target error) bool {
	return target == ErrInvalidWeight
}

// InvalidKeyError reports a malformed key definition.
type InvalidKeyError struct {
	KeyID  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidKeyError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("invalid key definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid key definition %s: %s", e.KeyID, e.Reason)
}

// Is implements error matching for errors.Is().
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}
