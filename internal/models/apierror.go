package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling
const (
	ErrCodeIdentityRequired = "IDENTITY_REQUIRED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUpstreamFailed   = "UPSTREAM_FAILED"
	ErrCodeStorageFailed    = "STORAGE_FAILED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// Sentinel errors, one per failure class. APIError values unwrap to these so
// callers can use errors.Is without knowing the code strings.
var (
	ErrIdentity   = errors.New("no usable device identifier")
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream request failed")
	ErrStorage    = errors.New("storage failure")
)

var sentinelByCode = map[string]error{
	ErrCodeIdentityRequired: ErrIdentity,
	ErrCodeValidationFailed: ErrValidation,
	ErrCodeNotFound:         ErrNotFound,
	ErrCodeUpstreamFailed:   ErrUpstream,
	ErrCodeStorageFailed:    ErrStorage,
}

// APIError represents a structured error with code and optional details
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"` // Original error (not exposed to client)
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the code, so errors.Is(err, ErrNotFound)
// holds for any NOT_FOUND APIError.
func (e *APIError) Is(target error) bool {
	sentinel, ok := sentinelByCode[e.Code]
	return ok && sentinel == target
}

// NewAPIError creates a new APIError
func NewAPIError(code, message string, details map[string]interface{}) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapError wraps an existing error with an APIError
func WrapError(code, message string, err error, details map[string]interface{}) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// NewIdentityError is returned when a request carries neither a MAC address nor a device id
func NewIdentityError() *APIError {
	return NewAPIError(
		ErrCodeIdentityRequired,
		"Either mac_address or device_id is required",
		map[string]interface{}{
			"fields": []string{"mac_address", "device_id"},
		},
	)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *APIError {
	return NewAPIError(
		ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource),
		map[string]interface{}{
			"resource": resource,
		},
	)
}

// NewValidationError creates a validation error
func NewValidationError(message string, fields []string) *APIError {
	return NewAPIError(
		ErrCodeValidationFailed,
		message,
		map[string]interface{}{
			"invalid_fields": fields,
		},
	)
}

// NewStorageError wraps a database failure
func NewStorageError(operation string, err error) *APIError {
	return WrapError(
		ErrCodeStorageFailed,
		fmt.Sprintf("Failed to %s", operation),
		err,
		nil,
	)
}

// NewUpstreamError wraps a failure talking to a remote service
func NewUpstreamError(service string, err error) *APIError {
	return WrapError(
		ErrCodeUpstreamFailed,
		fmt.Sprintf("Request to %s failed", service),
		err,
		map[string]interface{}{
			"service": service,
		},
	)
}
