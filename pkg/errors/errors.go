package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// Is matches any AppError carrying the same code, so callers can test
// against the package sentinels with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the error code onto a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound, ErrNotificationNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrMalformedCursor, ErrIdentityRequired:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrMalformedCursor
	ErrNotificationNotFound
	ErrIdentityRequired
)

// Sentinels for errors.Is checks.
var (
	MalformedCursor      = &AppError{Code: ErrMalformedCursor, Message: "malformed cursor"}
	NotificationNotFound = &AppError{Code: ErrNotificationNotFound, Message: "notification not found"}
	IdentityRequired     = &AppError{Code: ErrIdentityRequired, Message: "session or user required"}
	Forbidden            = &AppError{Code: ErrForbidden, Message: "forbidden"}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewMalformedCursor(cursor string) *AppError {
	return &AppError{
		Code:    ErrMalformedCursor,
		Message: fmt.Sprintf("malformed cursor %q", cursor),
	}
}

func NewNotificationNotFound(id string) *AppError {
	return &AppError{
		Code:    ErrNotificationNotFound,
		Message: fmt.Sprintf("notification %s not found", id),
	}
}

func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// StatusOf returns the HTTP status for err, defaulting to 500 for
// anything that is not an AppError.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Code != ErrInternal {
		return appErr.Message
	}
	return "internal server error"
}
