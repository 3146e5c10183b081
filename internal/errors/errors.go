package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the failure categories surfaced by the service
type Kind string

const (
	KindConfig          Kind = "config_error"
	KindDecode          Kind = "decode_error"
	KindUpstream        Kind = "upstream_error"
	KindInternal        Kind = "internal_error"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindValidation      Kind = "validation_error"
)

// AppError represents a structured application error
type AppError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"status_code"`
	Cause      error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may safely try the same request again.
func (e *AppError) Retryable() bool {
	return e.Kind == KindUpstream
}

// NewConfigError creates an error for missing or invalid server configuration.
// It is fatal for the request and not retryable.
func NewConfigError(message string) *AppError {
	return &AppError{
		Kind:       KindConfig,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewDecodeError creates an error for image bytes that could not be decoded
func NewDecodeError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindDecode,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewUpstreamError creates an error carrying the inference service status
func NewUpstreamError(statusCode int, message, details string, cause error) *AppError {
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}
	return &AppError{
		Kind:       KindUpstream,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewValidationError creates an error for a request that is well formed but
// names something the service will not accept, such as a disallowed URL.
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewPayloadTooLargeError creates an error for uploads above the configured cap
func NewPayloadTooLargeError(size, limit int64) *AppError {
	return &AppError{
		Kind:       KindPayloadTooLarge,
		Message:    "image is too large",
		Details:    fmt.Sprintf("%d bytes exceeds limit of %d bytes", size, limit),
		StatusCode: http.StatusRequestEntityTooLarge,
	}
}

// NewPixelLimitError creates an error for images whose declared dimensions
// exceed the configured pixel cap
func NewPixelLimitError(width, height int, limit int64) *AppError {
	return &AppError{
		Kind:       KindPayloadTooLarge,
		Message:    "image is too large",
		Details:    fmt.Sprintf("%dx%d image exceeds limit of %d pixels", width, height, limit),
		StatusCode: http.StatusRequestEntityTooLarge,
	}
}

// IsKind checks if the error chain holds an AppError of a specific kind
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// UserMessage is the text shown to end users for each kind. Internal
// details never leak through it.
func UserMessage(kind Kind) string {
	switch kind {
	case KindConfig:
		return "service is not configured"
	case KindDecode:
		return "could not process image"
	case KindUpstream:
		return "error analyzing the image, try again"
	case KindPayloadTooLarge:
		return "image is too large"
	case KindValidation:
		return "invalid request"
	default:
		return "error analyzing the image"
	}
}
