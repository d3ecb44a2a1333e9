package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotNotFound is returned when a snapshot id is unknown.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrDuplicateSnapshot is returned when saving an id that exists.
	ErrDuplicateSnapshot = errors.New("snapshot already exists")

	// ErrClosed is returned by a closed store.
	ErrClosed = errors.New("snapshot store closed")
)

// SnapshotNotFoundError names the missing snapshot.
type SnapshotNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot %q not found", e.ID)
}

// Is implements error matching for errors.Is().
func (e *SnapshotNotFoundError) Is(target error) bool {
	return target == ErrSnapshotNotFound
}

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed ("save", "get", "list", ...)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("snapshot storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
