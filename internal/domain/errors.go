package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTransport          = errors.New("transport error")
	ErrEndpointsExhausted = errors.New("all candidate endpoints exhausted")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrSigningFailed      = errors.New("signing failed")
	ErrExecution          = errors.New("order execution failed")
	ErrNoCredential       = errors.New("no signing credential available")
	ErrContextDone        = errors.New("context cancelled")
	ErrLockHeld           = errors.New("lock already held")
)
