package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrBusinessRule marks a synchronous rejection the caller can fix and retry.
	ErrBusinessRule = errors.New("business rule violation")
	// ErrInvalidTransition marks a status change the document's state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRetryable marks infrastructure contention (lock timeout, deadlock victim).
	ErrRetryable = errors.New("retryable infrastructure error")
	// ErrTenantMismatch indicates a document outside the caller's company/branch.
	ErrTenantMismatch = errors.New("tenant scope mismatch")
	// ErrMakerChecker indicates the creator attempted to approve their own document.
	ErrMakerChecker = errors.New("maker-checker: creator cannot approve")
)

// BusinessError carries a machine readable code and a human readable reason.
type BusinessError struct {
	Code   string
	Reason string
	Err    error
}

// NewBusinessError wraps err (which may be nil) as a business rule rejection.
func NewBusinessError(code string, err error, format string, args ...any) *BusinessError {
	return &BusinessError{Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (e *BusinessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
}

// Unwrap exposes the specific sentinel.
func (e *BusinessError) Unwrap() error { return e.Err }

// Is makes every BusinessError match ErrBusinessRule.
func (e *BusinessError) Is(target error) bool { return target == ErrBusinessRule }

// StateError reports an illegal state transition.
type StateError struct {
	Document string
	From     string
	To       string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s -> %s not allowed", e.Document, e.From, e.To)
}

// Is makes every StateError match ErrInvalidTransition.
func (e *StateError) Is(target error) bool { return target == ErrInvalidTransition }

// RetryableError wraps contention errors raised by the database.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Is makes every RetryableError match ErrRetryable.
func (e *RetryableError) Is(target error) bool { return target == ErrRetryable }

// IsBusiness reports whether err is a caller-recoverable rejection, including
// state and tenant errors.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrBusinessRule) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrTenantMismatch) ||
		errors.Is(err, ErrNotFound)
}

// CodeOf returns the BusinessError code or a generic label for metrics.
func CodeOf(err error) string {
	var be *BusinessError
	switch {
	case errors.As(err, &be):
		return be.Code
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrTenantMismatch):
		return "TENANT_MISMATCH"
	case errors.Is(err, ErrRetryable):
		return "RETRYABLE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
