package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition: from, to, or event cannot be nil")
	ErrInvalidEvent      = errors.New("invalid event: state and event cannot be nil")

	ErrNoTransition  = errors.New("no transition")
	ErrGuardRejected = errors.New("rejected by guards")
)

// TransitionError names the state and event that could not be resolved.
// It unwraps to ErrNoTransition or ErrGuardRejected.
type TransitionError struct {
	From  string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %q on %q", e.Err, e.From, e.Event)
}

func (e *TransitionError) Unwrap() error { return e.Err }
