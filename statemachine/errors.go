package statemachine

import (
	"errors"
	"fmt"
)

// TerminalStateError is returned when a transition is attempted from a
// terminal state. It is always a caller bug and never worth retrying.
type TerminalStateError struct {
	EntityType string
	EntityID   string
	State      State
	Attempted  State
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from terminal state %s to %s",
		e.EntityType, e.EntityID, e.State, e.Attempted)
}

// TransitionError is returned when the requested transition is not present
// in the variant's table.
type TransitionError struct {
	EntityType string
	EntityID   string
	From       State
	To         State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: invalid transition %s -> %s",
		e.EntityType, e.EntityID, e.From, e.To)
}

// IsTerminalViolation reports whether err is a TerminalStateError.
func IsTerminalViolation(err error) bool {
	var t *TerminalStateError
	return errors.As(err, &t)
}
