package dto

import "github.com/saasdash/backend/internal/domain/shared"

// Response is the envelope of every API response. Exactly one of Val and Err
// is set.
type Response struct {
	Val any        `json:"val,omitempty"`
	Err *ErrorInfo `json:"err,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Retry   bool               `json:"retry"`
	Details []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail names one rejected request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse wraps a value
func NewSuccessResponse(val any) Response {
	return Response{Val: val}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{Err: &ErrorInfo{Code: code, Message: message}}
}

// NewDomainErrorResponse renders a domain error, keeping its retry hint
func NewDomainErrorResponse(err *shared.DomainError) Response {
	return Response{Err: &ErrorInfo{Code: err.Code, Message: err.Message, Retry: err.Retry}}
}

// NewValidationErrorResponse creates an INVALID_INPUT response with field details
func NewValidationErrorResponse(message string, details []ValidationDetail) Response {
	return Response{Err: &ErrorInfo{
		Code:    shared.CodeInvalidInput,
		Message: message,
		Details: details,
	}}
}
