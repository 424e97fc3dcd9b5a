// Package errors defines common error types for the docsync system.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// Configuration errors
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrRemoteNotSet  = errors.New("remote endpoint not configured")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidPath  = errors.New("invalid path")

	// Transfer errors
	ErrTransferFailed  = errors.New("transfer failed")
	ErrTransferTimeout = errors.New("transfer timed out")

	// Integrity errors
	ErrIntegrity = errors.New("integrity check failed")

	// Cache/lock errors
	ErrLockTimeout = errors.New("lock wait timed out")

	// Storage errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrUnavailable   = errors.New("file unavailable")

	// Replication errors
	ErrSyncInProgress = errors.New("sync in progress")
	ErrRecordClaimed  = errors.New("record already claimed")
)

// DocsyncError is a custom error type with additional context.
type DocsyncError struct {
	Op      string // Operation that failed
	Kind    error  // Category of error
	Err     error  // Underlying error
	Details string // Additional details
}

// Error implements the error interface.
func (e *DocsyncError) Error() string {
	msg := e.Op
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Details != "" {
		msg += fmt.Sprintf(" (%s)", e.Details)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DocsyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *DocsyncError) Is(target error) bool {
	return errors.Is(e.Kind, target) || errors.Is(e.Err, target)
}

// E creates a new DocsyncError.
func E(op string, kind error, err error, details ...string) error {
	e := &DocsyncError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Wrap wraps an error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DocsyncError{
		Op:  op,
		Err: err,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout checks if the error is a transfer timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTransferTimeout)
}

// IsLockTimeout checks if the error is a lock wait timeout.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsIntegrity checks if the error is an integrity failure.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
