package runchat

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel conditions surfaced by the driver and the approval gate.
var (
	// ErrAuthExpired is returned when the credential is missing or expired
	// before a remote call. It is never retried locally.
	ErrAuthExpired = errors.New("auth expired")

	// ErrAlreadyDecided is returned when a decision is supplied for a call
	// that has already been decided. The first decision is kept.
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrUnknownCall is returned when a decision names a call id that is not
	// part of the outstanding approval batch.
	ErrUnknownCall = errors.New("unknown tool call")

	// ErrApprovalOutstanding is returned when a new batch or a new turn is
	// requested while an approval batch is still open for the session.
	ErrApprovalOutstanding = errors.New("approval outstanding")

	// ErrUndecided is returned when a batch is resolved before every call in
	// it has a decision.
	ErrUndecided = errors.New("approval batch not fully decided")

	// ErrNoActiveRun is returned when a run is resumed on a session that has
	// never started one.
	ErrNoActiveRun = errors.New("no active run")
)

// ErrorCategory classifies errors by how they should be handled.
type ErrorCategory string

const (
	// ErrorTransient indicates the error is temporary and the operation can be retried.
	// Examples: rate limits, temporary network issues, server overload.
	ErrorTransient ErrorCategory = "transient"

	// ErrorPermanent indicates the error is not recoverable through retry.
	// Examples: invalid credentials, unknown thread, agent not found.
	ErrorPermanent ErrorCategory = "permanent"

	// ErrorUserInput indicates the request itself was rejected and must be corrected.
	ErrorUserInput ErrorCategory = "user_input"
)

// CategorizedError is an error that provides information about how it should be handled.
type CategorizedError interface {
	error
	Category() ErrorCategory
	Retryable() bool
	StatusCode() int
	RetryAfter() time.Duration
}

// Error is a categorized backend error with metadata for retry decisions.
type Error struct {
	Msg        string
	Cat        ErrorCategory
	Code       int           // HTTP status code, 0 if not applicable
	RetryDelay time.Duration // from Retry-After header, 0 if not available
	Cause      error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.Cat
}

// Retryable returns true if the error is transient and can be retried.
func (e *Error) Retryable() bool {
	return e.Cat == ErrorTransient
}

// StatusCode returns the HTTP status code, or 0 if not applicable.
func (e *Error) StatusCode() int {
	return e.Code
}

// RetryAfter returns the suggested retry delay, or 0 if not available.
func (e *Error) RetryAfter() time.Duration {
	return e.RetryDelay
}

// NewTransientError creates a transient error that can be retried.
func NewTransientError(msg string, statusCode int, cause error) *Error {
	return &Error{Msg: msg, Cat: ErrorTransient, Code: statusCode, Cause: cause}
}

// NewPermanentError creates a permanent error that should not be retried.
func NewPermanentError(msg string, statusCode int, cause error) *Error {
	return &Error{Msg: msg, Cat: ErrorPermanent, Code: statusCode, Cause: cause}
}

// NewUserInputError creates an error indicating the request was rejected.
func NewUserInputError(msg string, statusCode int, cause error) *Error {
	return &Error{Msg: msg, Cat: ErrorUserInput, Code: statusCode, Cause: cause}
}

// Categorize builds an Error from an HTTP status code returned by a backend.
// 429 and 5xx are transient, 400/404/409/422 are user input, everything else
// is permanent. 401 and 403 map to ErrAuthExpired so callers can surface them
// without retrying.
func Categorize(msg string, statusCode int, cause error) error {
	switch {
	case statusCode == 401 || statusCode == 403:
		return fmt.Errorf("%s: %w: %w", msg, ErrAuthExpired, cause)
	case statusCode == 429 || (statusCode >= 500 && statusCode < 600):
		return NewTransientError(msg, statusCode, cause)
	case statusCode == 400 || statusCode == 404 || statusCode == 409 || statusCode == 422:
		return NewUserInputError(msg, statusCode, cause)
	default:
		return NewPermanentError(msg, statusCode, cause)
	}
}

// IsTransient returns true if the error is categorized as transient.
// It checks if the error or any wrapped error implements CategorizedError.
func IsTransient(err error) bool {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category() == ErrorTransient
	}
	return false
}

// IsPermanent returns true if the error is categorized as permanent.
func IsPermanent(err error) bool {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category() == ErrorPermanent
	}
	return false
}

// StatusCodeOf returns the HTTP status code from a categorized error, or 0.
func StatusCodeOf(err error) int {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.StatusCode()
	}
	return 0
}

// RunFailedError reports a run that reached a failed terminal status, or a
// run whose status could not be fetched after retries were exhausted.
type RunFailedError struct {
	RunID  string
	Status RunStatus
	Code   string
	Reason string
	Cause  error
}

// Error returns a formatted message including the backend-supplied reason.
func (e *RunFailedError) Error() string {
	msg := fmt.Sprintf("run %s %s", e.RunID, e.Status)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *RunFailedError) Unwrap() error {
	return e.Cause
}

// ResolutionFailedError reports an approval batch that could not be delivered
// to the backend. The batch stays decided and can be resubmitted.
type ResolutionFailedError struct {
	RunID    string
	Attempts int
	Cause    error
}

// Error returns a formatted message.
func (e *ResolutionFailedError) Error() string {
	return fmt.Sprintf("resolve approvals for run %s failed after %d attempt(s): %v", e.RunID, e.Attempts, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ResolutionFailedError) Unwrap() error {
	return e.Cause
}
