package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Concrete errors wrap one of these with %w so callers can
// classify them with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrAuthorization = errors.New("authorization required")
)

// Specific errors surfaced to callers of the impersonation controller and
// the session store.
var (
	ErrSessionNotFound       = fmt.Errorf("session %w", ErrNotFound)
	ErrSessionTokenExists    = fmt.Errorf("session token already exists: %w", ErrConflict)
	ErrSessionInvalid        = fmt.Errorf("session is not active: %w", ErrAuthorization)
	ErrPrincipalNotFound     = fmt.Errorf("principal %w", ErrNotFound)
	ErrImpersonationNotFound = fmt.Errorf("impersonation log %w", ErrNotFound)
	ErrImpersonationActive   = fmt.Errorf("admin already has an active impersonation: %w", ErrConflict)
	ErrImpersonationToken    = fmt.Errorf("impersonation session token already exists: %w", ErrConflict)
	ErrNotSuperAdmin         = fmt.Errorf("only super admins may impersonate: %w", ErrAuthorization)
	ErrTargetSuperAdmin      = fmt.Errorf("cannot impersonate a super admin: %w", ErrForbidden)
	ErrSelfImpersonation     = fmt.Errorf("cannot impersonate yourself: %w", ErrValidation)
	ErrMissingTarget         = fmt.Errorf("target principal id is required: %w", ErrValidation)
)

// HTTPStatus maps an error kind to its HTTP status. Unclassified errors
// are 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAuthorization):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
