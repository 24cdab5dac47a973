// Package apperr provides custom error types and error handling utilities.
// Following Go idioms, errors are values that carry context about what went wrong.
package apperr

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for the application.
// These can be checked with errors.Is() for specific error handling.
var (
	// ErrNotFound indicates a job id has no matching row.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a duplicate resource.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidURL indicates an invalid or malformed URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrInvalidPreset indicates the requested preset is not in the closed set.
	ErrInvalidPreset = errors.New("invalid preset")

	// ErrInvalidState indicates a transition was attempted from a status
	// that does not permit it (e.g. resume on a queued job).
	ErrInvalidState = errors.New("invalid state")

	// ErrJobNotActive indicates a pause was requested on a job that is
	// neither queued nor currently running under the scheduler.
	ErrJobNotActive = errors.New("job not active or not queued")

	// ErrPathOutsideRoot indicates a requested path resolves outside the
	// configured storage root (traversal attempt or dangling symlink).
	ErrPathOutsideRoot = errors.New("path outside storage root")

	// ErrDependencyMissing indicates a required binary is not installed.
	ErrDependencyMissing = errors.New("required dependency not installed")

	// ErrDownloadFailed indicates an extraction/download operation failed.
	ErrDownloadFailed = errors.New("download failed")

	// ErrPermissionDenied indicates insufficient permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled (pause/delete).
	ErrCancelled = errors.New("operation cancelled")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// AppError is a structured error type that carries additional context.
type AppError struct {
	Op      string // Operation that failed (e.g., "Store.Begin")
	Err     error  // Underlying error
	Message string // User-friendly message
	Code    string // Error code for HTTP response mapping
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with wrapped errors.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given operation and error.
func New(op string, err error) *AppError {
	return &AppError{
		Op:  op,
		Err: err,
	}
}

// NewWithMessage creates a new AppError with a user-friendly message.
func NewWithMessage(op string, err error, message string) *AppError {
	return &AppError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}

// NewWithCode creates a new AppError with an error code for HTTP handling.
func NewWithCode(op string, err error, code string, message string) *AppError {
	return &AppError{
		Op:      op,
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err}
}

// WrapWithMessage wraps an error with a user-friendly message.
func WrapWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err, Message: message}
}

// IsNotFound checks if an error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCancelled checks if an error is a cancellation error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsInvalidState checks if an error reflects a disallowed state transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrJobNotActive)
}
