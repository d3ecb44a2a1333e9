package ratelimit

import (
	"context"
	"errors"
	"time"
)

// DefaultWindow is the admission window when none is configured.
const DefaultWindow = time.Minute

// ErrUnknownKey is returned when a key has no configured limit.
var ErrUnknownKey = errors.New("no rate limit configured for key")

// Backend admits requests against per-key budgets. Within any window no
// more than the key's limit of reservations are accepted.
type Backend interface {
	// TryReserve takes one slot from the key's budget. It reports false,
	// without error, when the budget is spent or the key is unknown.
	TryReserve(ctx context.Context, keyID string) (Reservation, bool, error)

	// Remaining returns the number of slots still available in the window.
	Remaining(ctx context.Context, keyID string) (int, error)

	// Release returns r to the budget. A reservation that has already
	// aged out of the window is not counted any more, so releasing it is a
	// no-op and never frees another live slot.
	Release(ctx context.Context, r Reservation) error

	// Configure replaces the set of limits. Keys absent from limits are
	// forgotten; keys that remain keep their reservation history.
	Configure(limits map[string]int)

	// Reset discards all reservation history.
	Reset(ctx context.Context) error
}

// Reservation identifies one accepted slot.
type Reservation struct {
	KeyID string    `json:"key_id"`
	At    time.Time `json:"at"`
	// ID is the backend's member name for the slot. The in-memory log
	// matches on At and leaves it empty.
	ID string `json:"id,omitempty"`
}

// Usage describes one key's position in its window.
type Usage struct {
	Limit     int `json:"limit"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// Local is implemented by backends whose state can be inspected without I/O.
type Local interface {
	Usage(keyID string) (Usage, bool)
	RetryAfter(keyID string) time.Duration
}
