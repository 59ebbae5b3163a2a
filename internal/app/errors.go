package app

import (
	"errors"
	"fmt"
	"net/http"

	"casemark/api/internal/casegraph"
	"casemark/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errInvariant(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVARIANT_VIOLATION", message, nil)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errState(message string) *DomainError {
	return domainError(http.StatusConflict, "STATE_ERROR", message, nil)
}

// graphError translates the casegraph error kinds into their external form.
func graphError(err error) error {
	var inv *casegraph.InvariantViolation
	if errors.As(err, &inv) {
		return errInvariant(inv.Reason)
	}
	var conf *casegraph.ConflictError
	if errors.As(err, &conf) {
		return errConflict(conf.Reason)
	}
	var state *casegraph.StateError
	if errors.As(err, &state) {
		return errState(state.Reason)
	}
	if errors.Is(err, casegraph.ErrNotFound) {
		return errNotFound()
	}
	return err
}

func storeError(err error) error {
	if store.IsNotFound(err) {
		return errNotFound()
	}
	return err
}
