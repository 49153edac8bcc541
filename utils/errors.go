package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError represents a service-level error with context
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    string `json:"details,omitempty"`
	Cause      error  `json:"-"` // Original error, not exposed in JSON
}

func (e ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(code, message string) error {
	return ServiceError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewServiceErrorWithStatus creates a service error with specific HTTP status
func NewServiceErrorWithStatus(code, message string, statusCode int) error {
	return ServiceError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// IsServiceError checks if an error is a service error
func IsServiceError(err error) bool {
	var serviceErr ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error
func GetServiceError(err error) (ServiceError, bool) {
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return ServiceError{}, false
}

// HasErrorCode reports whether err is a ServiceError carrying the given code.
func HasErrorCode(err error, code string) bool {
	serviceErr, ok := GetServiceError(err)
	return ok && serviceErr.Code == code
}

// Common service error constructors
func NewNotFoundError(resource string) error {
	return ServiceError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func NewBadRequestError(message string) error {
	return ServiceError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewConflictError(message string) error {
	return ServiceError{
		Code:       ErrCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInternalError(message string) error {
	return ServiceError{
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func NewDatabaseError(operation string, cause error) error {
	return ServiceError{
		Code:       ErrCodeDatabase,
		Message:    fmt.Sprintf("Database operation failed: %s", operation),
		Cause:      cause,
		StatusCode: http.StatusInternalServerError,
	}
}

func NewUnauthorizedError(message string) error {
	return ServiceError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// Lifecycle state errors. These are caller mistakes or expected races:
// returned synchronously, never retried, never fatal.

func NewActiveEmergencyExistsError() error {
	return ServiceError{
		Code:       ErrCodeActiveEmergencyExists,
		Message:    "User already has an active emergency",
		StatusCode: http.StatusConflict,
	}
}

func NewInvalidStateTransitionError(from, to string) error {
	return ServiceError{
		Code:       ErrCodeInvalidStateTransition,
		Message:    fmt.Sprintf("Invalid state transition from %s to %s", from, to),
		StatusCode: http.StatusConflict,
	}
}

func NewEmergencyNotActiveError() error {
	return ServiceError{
		Code:       ErrCodeEmergencyNotActive,
		Message:    "Emergency is not active",
		StatusCode: http.StatusConflict,
	}
}

func NewEmergencyNotCancellableError() error {
	return ServiceError{
		Code:       ErrCodeEmergencyNotCancellable,
		Message:    "Emergency is already in a terminal state",
		StatusCode: http.StatusConflict,
	}
}

func NewDuplicateAcknowledgmentError() error {
	return ServiceError{
		Code:       ErrCodeDuplicateAcknowledgment,
		Message:    "Responder has already acknowledged this emergency",
		StatusCode: http.StatusConflict,
	}
}

func NewEmergencyNotFoundError() error {
	return NewNotFoundError("Emergency")
}

func NewBatchNotFoundError() error {
	return NewNotFoundError("Notification batch")
}

// Error code constants
const (
	ErrCodeNotFound = "NOT_FOUND"
	ErrCodeConflict = "CONFLICT"
	ErrCodeInternal = "INTERNAL_ERROR"
	ErrCodeDatabase = "DATABASE_ERROR"

	ErrCodeActiveEmergencyExists   = "ACTIVE_EMERGENCY_EXISTS"
	ErrCodeInvalidStateTransition  = "INVALID_STATE_TRANSITION"
	ErrCodeEmergencyNotActive      = "EMERGENCY_NOT_ACTIVE"
	ErrCodeEmergencyNotCancellable = "EMERGENCY_NOT_CANCELLABLE"
	ErrCodeDuplicateAcknowledgment = "DUPLICATE_ACKNOWLEDGMENT"
)
