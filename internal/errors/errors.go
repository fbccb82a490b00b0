// Package errors provides error code definitions shared across the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique, stable error code surfaced over the API.
type ErrorCode string

const (
	// General errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrInvalid   ErrorCode = "INVALID_INPUT"
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrDuplicate ErrorCode = "DUPLICATE"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Queue errors
	ErrQueueFull     ErrorCode = "QUEUE_FULL"
	ErrItemNotFailed ErrorCode = "ITEM_NOT_FAILED"
	ErrItemInFlight  ErrorCode = "ITEM_IN_FLIGHT"
	ErrItemTerminal  ErrorCode = "ITEM_TERMINAL"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrEmptyReceipt      ErrorCode = "EMPTY_RECEIPT"

	// Remote errors
	ErrRemoteFailed ErrorCode = "REMOTE_FAILED"
	ErrAuthFailed   ErrorCode = "AUTH_FAILED"
	ErrTimeout      ErrorCode = "TIMEOUT"

	// Credential errors
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or ErrInternal when err has none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
