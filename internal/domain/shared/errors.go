package shared

import (
	"context"
	"errors"
	"fmt"
)

// Error codes shared by every component of the engine. Callers switch on
// these values, so they are part of the public contract.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeExpired                = "EXPIRED"
	CodeUsageExceeded          = "USAGE_EXCEEDED"
	CodeWorkspaceDisabled      = "WORKSPACE_DISABLED"
	CodeProjectDisabled        = "PROJECT_DISABLED"
	CodeCustomerDisabled       = "CUSTOMER_DISABLED"
	CodeInvalidPhaseOverlap    = "INVALID_PHASE_OVERLAP"
	CodeInvalidPhaseGap        = "INVALID_PHASE_GAP"
	CodePhaseAlreadyStarted    = "PHASE_ALREADY_STARTED"
	CodeNoActiveTrial          = "NO_ACTIVE_TRIAL"
	CodeInvalidTransition      = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeLimiterUnavailable     = "LIMITER_UNAVAILABLE"
	CodeTimeout                = "TIMEOUT"
	CodeUnhandled              = "UNHANDLED_ERROR"
	CodeNoActiveSubscription   = "NO_ACTIVE_SUBSCRIPTION"
	CodeFeatureNotInPlan       = "FEATURE_NOT_IN_PLAN"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeAlreadyExists          = "ALREADY_EXISTS"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"` // repeating the same request may succeed

	cause error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches any DomainError carrying the same code, so sentinel values work
// with errors.Is even after WithMessage or Wrap.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	return &DomainError{Code: e.Code, Message: message, Retry: e.Retry, cause: e.cause}
}

// Wrap returns a copy of the error that carries cause
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Retry: e.Retry, cause: cause}
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a domain error the caller may retry
func NewRetryableError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Retry:   true,
	}
}

// Common domain errors
var (
	ErrNotFound               = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput           = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrUnauthorized           = NewDomainError(CodeUnauthorized, "Not authorized to perform this action")
	ErrForbidden              = NewDomainError(CodeForbidden, "Access to this resource is forbidden")
	ErrAlreadyExists          = NewDomainError(CodeAlreadyExists, "Resource already exists")
	ErrInvalidTransition      = NewDomainError(CodeInvalidTransition, "Operation not allowed in current state")
	ErrConcurrentModification = NewRetryableError(CodeConcurrentModification, "Resource was modified by another process")
	ErrLimiterUnavailable     = NewRetryableError(CodeLimiterUnavailable, "Usage limiter is unavailable")
	ErrTimeout                = NewRetryableError(CodeTimeout, "Operation exceeded its time budget")
	ErrUnhandled              = NewDomainError(CodeUnhandled, "Unhandled error")
)

// AsDomainError converts any error into a DomainError. Deadline and
// cancellation errors become TIMEOUT, anything unknown becomes UNHANDLED_ERROR.
func AsDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout.Wrap(err)
	}
	return ErrUnhandled.Wrap(err)
}

// IsCode reports whether err is a DomainError with the given code
func IsCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
