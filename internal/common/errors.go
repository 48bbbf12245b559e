// Package common defines shared constants and sentinel errors used across
// the server, transports and the CLI. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrorValidation   = errors.New("validation error")
	ErrorRateLimited  = errors.New("too many requests")

	// Token errors. Both collapse to ErrorUnauthorized before leaving the
	// service layer.
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing token")
)
