package main

import (
	"errors"

	"loom/internal/driver"
	"loom/internal/engine"
	"loom/internal/store"
)

// CLI exit codes. Suspension is an expected state, not a failure, but
// scripts still need to see it.
const (
	exitFailure    = 1
	exitSuspended  = 2
	exitValidation = 3
	exitNotFound   = 4
)

// exitError carries a specific process exit code alongside the message.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func suspendedError(err error) error {
	return &exitError{code: exitSuspended, err: err}
}

func exitCodeFor(err error) int {
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, store.ErrNotFound) {
		return exitNotFound
	}
	if isValidationError(err) {
		return exitValidation
	}
	return exitFailure
}

func isValidationError(err error) bool {
	for _, target := range []error{
		engine.ErrIncomplete,
		engine.ErrOutOfOrder,
		engine.ErrNotEligible,
		engine.ErrEventReplayed,
		driver.ErrStateInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
