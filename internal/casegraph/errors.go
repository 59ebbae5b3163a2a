package casegraph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced element is not part of the graph.
var ErrNotFound = errors.New("element not found")

// InvariantViolation reports a mutation that would break a structural rule of
// the case graph (multiple parents, self-reference, cross-case evidence link).
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

func invariant(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a mutation that clashes with the current shape of the
// graph, e.g. attaching a claim into a subtree that already hangs below it.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// StateError reports an operation applied to an element in the wrong state,
// e.g. detaching an element that is already in the sandbox.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error: %s", e.Reason)
}

func stateError(format string, args ...any) *StateError {
	return &StateError{Reason: fmt.Sprintf(format, args...)}
}
