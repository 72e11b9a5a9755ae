// Package errors defines the coded errors returned across the peer API boundary.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is the machine-readable code sent to peers in the "code" field.
type ErrorCode string

const (
	// Request validation
	ErrMissingAction    ErrorCode = "MISSING_ACTION"
	ErrInvalidAction    ErrorCode = "INVALID_ACTION"
	ErrMissingReference ErrorCode = "MISSING_REFERENCE"
	ErrInvalidQuantity  ErrorCode = "INVALID_QUANTITY"

	// Authentication
	ErrInvalidToken ErrorCode = "INVALID_TOKEN"

	// Domain
	ErrReferenceNotFound ErrorCode = "REFERENCE_NOT_FOUND"
	ErrUpdateFailed      ErrorCode = "UPDATE_FAILED"
	ErrConflictRejected  ErrorCode = "CONFLICT_REJECTED"
	ErrModuleInactive    ErrorCode = "MODULE_INACTIVE"
	ErrStoreNotFound     ErrorCode = "STORE_NOT_FOUND"
	ErrSyncNotAllowed    ErrorCode = "SYNC_NOT_ALLOWED"

	// Anything unexpected
	ErrException ErrorCode = "EXCEPTION"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrException when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrException
}

// MessageOf returns the peer-facing message for err. Errors without a code
// get a generic message so internals never leak to callers.
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal error"
}
