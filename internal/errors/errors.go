// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures across the draft subsystem.
type ErrorType string

const (
	// ErrorTypeValidation means the server rejected a payload with a
	// structured reason that can be surfaced to the user.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeFetch covers transport failures and non-2xx responses
	// without a usable reason.
	ErrorTypeFetch ErrorType = "fetch_error"
	// ErrorTypeStorage covers local persistence failures: quota,
	// serialization, disabled storage.
	ErrorTypeStorage ErrorType = "storage_failure"
	// ErrorTypeNotFound marks lookups for drafts that do not exist
	// under the caller's owner key.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeIdentity marks session-identity generation failures.
	// These are fatal to the calling flow.
	ErrorTypeIdentity ErrorType = "identity_failure"
	// ErrorTypeUnauthorized marks requests carrying no usable identity.
	ErrorTypeUnauthorized ErrorType = "unauthorized"
)

// AppError is the error shape shared by the client and server halves.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError of the given type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    errorCode(errType),
	}
}

// NewValidationError reports a payload the server rejected with a reason.
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewFetchError reports a transport or non-2xx failure.
func NewFetchError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeFetch, message, originalError)
}

// NewStorageError reports a local read/write failure.
func NewStorageError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeStorage, message, originalError)
}

// NewNotFoundError reports a missing draft.
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewIdentityError reports a session-identity generation failure.
func NewIdentityError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeIdentity, message, originalError)
}

// NewUnauthorizedError reports a request with no resolvable owner.
func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

func isType(err error, t ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == t
	}
	return false
}

// IsValidationError checks for a structured server rejection.
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsFetchError checks for a transport-level failure.
func IsFetchError(err error) bool { return isType(err, ErrorTypeFetch) }

// IsStorageError checks for a local persistence failure.
func IsStorageError(err error) bool { return isType(err, ErrorTypeStorage) }

// IsNotFoundError checks for a missing-draft failure.
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsIdentityError checks for a session-identity failure.
func IsIdentityError(err error) bool { return isType(err, ErrorTypeIdentity) }

// IsUnauthorizedError checks for a missing-identity failure.
func IsUnauthorizedError(err error) bool { return isType(err, ErrorTypeUnauthorized) }

func errorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeFetch:
		return "FETCH_ERROR"
	case ErrorTypeStorage:
		return "STORAGE_FAILURE"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeIdentity:
		return "IDENTITY_FAILURE"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError wraps an existing error, preserving its type when it is
// already an AppError.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
