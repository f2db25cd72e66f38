package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest  ErrorType = "invalid_request_error"
	ErrorTypeAuthentication  ErrorType = "authentication_error"
	ErrorTypePermission      ErrorType = "permission_error"
	ErrorTypeNotFound        ErrorType = "not_found_error"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeRateLimit       ErrorType = "rate_limit_error"
	ErrorTypeTimeout         ErrorType = "timeout_error"
	ErrorTypeOverloaded      ErrorType = "overloaded_error"
	ErrorTypeAPI             ErrorType = "api_error"
)

// APIError represents a structured API error. Every error the proxy
// reports, synchronously or in-band, has this shape.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level
// error response: {"type":"error","error":{...}}.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// NewErrorResponse wraps err in the top-level error envelope.
func NewErrorResponse(err *APIError) ErrorResponse {
	return ErrorResponse{Type: "error", Error: err}
}

// NewInvalidRequestError creates an APIError for malformed requests.
func NewInvalidRequestError(message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Message: message}
}

// NewAuthenticationError creates an APIError for missing or invalid credentials.
func NewAuthenticationError(message string) *APIError {
	return &APIError{Type: ErrorTypeAuthentication, Message: message}
}

// NewNotFoundError creates an APIError for unknown routes or resources.
func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

// NewRequestTooLargeError creates an APIError for oversized request bodies.
func NewRequestTooLargeError(message string) *APIError {
	return &APIError{Type: ErrorTypeRequestTooLarge, Message: message}
}

// NewRateLimitError creates an APIError for rate limiting.
func NewRateLimitError(message string) *APIError {
	return &APIError{Type: ErrorTypeRateLimit, Message: message}
}

// NewTimeoutError creates an APIError for upstream timeouts.
func NewTimeoutError(message string) *APIError {
	return &APIError{Type: ErrorTypeTimeout, Message: message}
}

// NewOverloadedError creates an APIError for an unavailable upstream.
func NewOverloadedError(message string) *APIError {
	return &APIError{Type: ErrorTypeOverloaded, Message: message}
}

// NewServerError creates an APIError for internal failures.
func NewServerError(message string) *APIError {
	return &APIError{Type: ErrorTypeAPI, Message: message}
}
