// Package errors provides the API error taxonomy of the dashboard service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	// Validation errors
	DASH_VALIDATION        ErrorCode = "DASH_VALIDATION"
	DASH_BAD_REQUEST       ErrorCode = "DASH_BAD_REQUEST"
	DASH_PAGE_OUT_OF_RANGE ErrorCode = "DASH_PAGE_OUT_OF_RANGE"

	// Session errors
	DASH_NO_SESSION    ErrorCode = "DASH_NO_SESSION"
	DASH_TOKEN_INVALID ErrorCode = "DASH_TOKEN_INVALID"

	// Resource errors
	DASH_NOT_FOUND ErrorCode = "DASH_NOT_FOUND"

	// Server errors
	DASH_BACKEND     ErrorCode = "DASH_BACKEND"
	DASH_INTERNAL    ErrorCode = "DASH_INTERNAL"
	DASH_UNAVAILABLE ErrorCode = "DASH_UNAVAILABLE"
)

// Error is the JSON error body.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case DASH_VALIDATION, DASH_BAD_REQUEST, DASH_PAGE_OUT_OF_RANGE:
		return http.StatusBadRequest
	case DASH_NO_SESSION, DASH_TOKEN_INVALID:
		return http.StatusUnauthorized
	case DASH_NOT_FOUND:
		return http.StatusNotFound
	case DASH_BACKEND:
		return http.StatusBadGateway
	case DASH_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
