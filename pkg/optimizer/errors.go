package optimizer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOptimizerBusy is returned when a run is requested while another
	// run is in flight.
	ErrOptimizerBusy = errors.New("optimizer busy")

	// ErrUnknownStrategy is returned when a strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// UnknownStrategyError names the strategy that failed to resolve.
type UnknownStrategyError struct {
	Name  string
	Known []Strategy
}

// Error implements the error interface.
func (e *UnknownStrategyError) Error() string {
	names := make([]string, len(e.Known))
	for i, s := range e.Known {
		names[i] = string(s)
	}
	return fmt.Sprintf("unknown strategy %q (known: %s)", e.Name, strings.Join(names, ", "))
}

// Is implements error matching for errors.Is().
func (e *UnknownStrategyError) Is(target error) bool {
	return target == ErrUnknownStrategy
}
