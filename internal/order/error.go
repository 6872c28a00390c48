package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnauthorized  = errors.New("unauthorized")
)

// ValidationError reports a rejected input on a lifecycle action. Nothing
// is mutated and nothing is sent when one of these is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports a transition attempted from a status that does
// not permit it.
type InvalidStateError struct {
	From   Status
	Action string
}

func (e *InvalidStateError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("terminal status %s: cannot %s", e.From, e.Action)
	}
	return fmt.Sprintf("invalid status transition: cannot %s while %s", e.Action, e.From)
}
