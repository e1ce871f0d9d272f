package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application error with additional context
type AppError struct {
	Code    string // Error code for client
	Message string // Human-readable message
	Err     error  // Underlying error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeForbiddenSystem = "FORBIDDEN_SYSTEM_ACCOUNT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeTokenRevoked    = "TOKEN_REVOKED"
	ErrCodeImportExpired   = "IMPORT_EXPIRED"
	ErrCodeTransient       = "TRANSIENT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an error with additional context
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound creates a not found error. Entities not owned by the caller
// are reported as not found, never as forbidden.
func NotFound(resource string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// Validation creates a validation error
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a formatted validation error
func Validationf(format string, args ...interface{}) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// ForbiddenSystem creates an error for operations on system accounts
func ForbiddenSystem(message string) *AppError {
	return &AppError{Code: ErrCodeForbiddenSystem, Message: message}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{Code: ErrCodeUnauthorized, Message: message}
}

// TokenRevoked creates an error for revoked API tokens
func TokenRevoked() *AppError {
	return &AppError{Code: ErrCodeTokenRevoked, Message: "token has been revoked"}
}

// ImportExpired creates an error for import sessions whose source is gone
func ImportExpired() *AppError {
	return &AppError{Code: ErrCodeImportExpired, Message: "import source is no longer available"}
}

// Transient creates a retry-worthy error for outbound or store failures
func Transient(message string, err error) *AppError {
	return &AppError{Code: ErrCodeTransient, Message: message, Err: err}
}

// Internal creates an internal error
func Internal(message string, err error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message, Err: err}
}

// GetAppError extracts an AppError from an error chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
