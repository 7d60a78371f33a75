package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("statemachine: from, to and event must be set")
	ErrDuplicateTarget   = errors.New("statemachine: unguarded duplicate for the same state and event")

	// ErrNoTransition means nothing is declared for the state and event.
	ErrNoTransition = errors.New("statemachine: no transition declared")
	// ErrRejected means transitions are declared but guards vetoed all of them.
	ErrRejected = errors.New("statemachine: transition rejected by guards")
)

// TransitionError is returned by Next. Err is ErrNoTransition or ErrRejected.
type TransitionError struct {
	State string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: state %q, event %q", e.Err, e.State, e.Event)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func transitionError(state, event any, err error) *TransitionError {
	return &TransitionError{State: fmt.Sprint(state), Event: fmt.Sprint(event), Err: err}
}
