// Package errors provides error handling for peterbot.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marking errors with a domain sentinel without changing their message
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify a failure for callers
//	return errors.NewValidationError("input must be 1-%d characters", max)
//
//	// Check errors
//	if errors.IsValidation(err) {
//	    // reject before persistence
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	Join          = crdb.Join
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors for the job subsystem.
// Use these with errors.Is() or the Is* helpers below.
var (
	// ErrNotFound indicates the requested job or schedule does not exist
	ErrNotFound = New("not found")

	// ErrValidation marks malformed job or schedule input, rejected before persistence
	ErrValidation = New("validation failed")

	// ErrInvalidSchedule marks a cron expression that cannot be parsed or satisfied
	ErrInvalidSchedule = New("invalid schedule")

	// ErrGateway marks a failed call to the AI provider, the chat transport or the sandbox
	ErrGateway = New("gateway error")

	// ErrPersistence marks a failed store operation
	ErrPersistence = New("persistence error")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// NewInvalidScheduleError creates an invalid-schedule error with a formatted message.
func NewInvalidScheduleError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidSchedule)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// WrapGateway wraps err with context and marks it as a gateway failure.
func WrapGateway(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrGateway)
}

// WrapPersistence wraps err with context and marks it as a persistence failure.
func WrapPersistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrPersistence)
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsInvalidSchedule checks if an error is or wraps ErrInvalidSchedule
func IsInvalidSchedule(err error) bool {
	return err != nil && Is(err, ErrInvalidSchedule)
}

// IsGateway checks if an error is or wraps ErrGateway
func IsGateway(err error) bool {
	return err != nil && Is(err, ErrGateway)
}

// IsPersistence checks if an error is or wraps ErrPersistence
func IsPersistence(err error) bool {
	return err != nil && Is(err, ErrPersistence)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
