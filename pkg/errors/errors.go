package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL_ERROR"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeTransport       = "TRANSPORT_ERROR"
	CodeNotConnected    = "NOT_CONNECTED"
	CodeTimeout         = "TIMEOUT"
	CodeMalformed       = "MALFORMED_PAYLOAD"
	CodeStopped         = "STOPPED"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    CodeTooManyRequests,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

// Transport wraps handshake and socket failures. They are retried by the
// connection manager and only surface through the connection-state signal.
func Transport(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTransport,
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func NotConnected(message string) *AppError {
	return &AppError{
		Code:    CodeNotConnected,
		Message: message,
		Status:  http.StatusServiceUnavailable,
	}
}

func Timeout(message string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: message,
		Status:  http.StatusGatewayTimeout,
	}
}

func Malformed(message string, err error) *AppError {
	return &AppError{
		Code:    CodeMalformed,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Stopped(message string) *AppError {
	return &AppError{
		Code:    CodeStopped,
		Message: message,
		Status:  http.StatusServiceUnavailable,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
