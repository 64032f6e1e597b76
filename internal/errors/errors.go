// Package errors provides standardized error handling for the catalog service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the catalog service.
type ErrorCode string

const (
	// Validation errors
	CAT_VALIDATION          ErrorCode = "CAT_VALIDATION"          // General validation error
	CAT_SCHEMA_REJECT       ErrorCode = "CAT_SCHEMA_REJECT"       // Payload schema validation failed
	CAT_BAD_REQUEST         ErrorCode = "CAT_BAD_REQUEST"         // Bad request
	CAT_FRAME_COUNT         ErrorCode = "CAT_FRAME_COUNT"         // Frame count outside the allow-list
	CAT_SATELLITE_UNDEFINED ErrorCode = "CAT_SATELLITE_UNDEFINED" // Ingestion for an unknown satellite

	// Authentication errors
	CAT_AUTHN         ErrorCode = "CAT_AUTHN"         // Authentication failed
	CAT_JWT_INVALID   ErrorCode = "CAT_JWT_INVALID"   // Invalid token
	CAT_JWT_EXPIRED   ErrorCode = "CAT_JWT_EXPIRED"   // Expired token
	CAT_JWT_MALFORMED ErrorCode = "CAT_JWT_MALFORMED" // Malformed token

	// Resource errors
	CAT_NOT_FOUND ErrorCode = "CAT_NOT_FOUND" // Resource not found
	CAT_CONFLICT  ErrorCode = "CAT_CONFLICT"  // Resource conflict

	// Server errors
	CAT_INTERNAL    ErrorCode = "CAT_INTERNAL"    // Internal server error
	CAT_UNAVAILABLE ErrorCode = "CAT_UNAVAILABLE" // Service unavailable
)

// Error represents a standardized error response.
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
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Invalid returns a client error raised below the HTTP layer. The correlation id
// is filled in when the error reaches a handler.
func Invalid(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), "")
}

// Validation is shorthand for Invalid(CAT_VALIDATION, ...).
func Validation(format string, args ...any) *Error {
	return Invalid(CAT_VALIDATION, format, args...)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case CAT_VALIDATION, CAT_SCHEMA_REJECT, CAT_BAD_REQUEST, CAT_FRAME_COUNT, CAT_SATELLITE_UNDEFINED:
		return http.StatusBadRequest
	case CAT_AUTHN, CAT_JWT_INVALID, CAT_JWT_EXPIRED, CAT_JWT_MALFORMED:
		return http.StatusUnauthorized
	case CAT_NOT_FOUND:
		return http.StatusNotFound
	case CAT_CONFLICT:
		return http.StatusConflict
	case CAT_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
