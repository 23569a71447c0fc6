package dto

import (
	"net/http"

	"github.com/saasdash/backend/internal/domain/shared"
)

// Transport-only error codes, never produced by the domain
const (
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeRouteNotFound   = "ROUTE_NOT_FOUND"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	shared.CodeUnauthorized: http.StatusUnauthorized,

	shared.CodeForbidden:         http.StatusForbidden,
	shared.CodeExpired:           http.StatusForbidden,
	shared.CodeWorkspaceDisabled: http.StatusForbidden,
	shared.CodeProjectDisabled:   http.StatusForbidden,
	shared.CodeCustomerDisabled:  http.StatusForbidden,

	shared.CodeNotFound:             http.StatusNotFound,
	shared.CodeNoActiveSubscription: http.StatusNotFound,
	shared.CodeFeatureNotInPlan:     http.StatusNotFound,
	ErrCodeRouteNotFound:            http.StatusNotFound,

	shared.CodeConcurrentModification: http.StatusConflict,
	shared.CodeAlreadyExists:          http.StatusConflict,

	shared.CodeInvalidPhaseOverlap: http.StatusUnprocessableEntity,
	shared.CodeInvalidPhaseGap:     http.StatusUnprocessableEntity,
	shared.CodePhaseAlreadyStarted: http.StatusUnprocessableEntity,
	shared.CodeNoActiveTrial:       http.StatusUnprocessableEntity,
	shared.CodeInvalidTransition:   http.StatusUnprocessableEntity,

	shared.CodeInvalidInput: http.StatusBadRequest,

	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	shared.CodeUsageExceeded: http.StatusTooManyRequests,
	ErrCodeRateLimited:       http.StatusTooManyRequests,

	shared.CodeLimiterUnavailable: http.StatusServiceUnavailable,
	shared.CodeTimeout:            http.StatusServiceUnavailable,

	shared.CodeUnhandled: http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes are treated as internal errors.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
