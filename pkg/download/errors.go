package download

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a run attempts a step out of order.
var ErrInvalidTransition = errors.New("invalid state transition")

// RunError is returned when a run ends in ErrorTerminal. State is the
// state that failed.
type RunError struct {
	State State
	Err   error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("download failed in %s: %v", e.State, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RunError) Unwrap() error {
	return e.Err
}
