package waypoint

import (
	"fmt"
	"net/http"

	werrors "github.com/toyz/waypoint/internal/errors"
)

// HttpError represents an HTTP error with a specific status code and message.
// It is written to the client as {"code": number, "message"?: string}.
type HttpError struct {
	StatusCode int               `json:"-"`
	Code       int               `json:"code"`
	Message    string            `json:"message,omitempty"`
	Headers    map[string]string `json:"-"`
	Cause      error             `json:"-"`
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *HttpError) Unwrap() error {
	return e.Cause
}

// Body returns the wire representation of the error.
func (e *HttpError) Body() map[string]any {
	code := e.Code
	if code == 0 {
		code = e.StatusCode
	}
	body := map[string]any{"code": code}
	if e.Message != "" {
		body["message"] = e.Message
	}
	return body
}

// WithHeader adds a header sent along with the error response.
func (e *HttpError) WithHeader(key, value string) *HttpError {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

// WithCode sets an application-specific code for the body.
func (e *HttpError) WithCode(code int) *HttpError {
	e.Code = code
	return e
}

// WithCause records the error that produced this one.
func (e *HttpError) WithCause(cause error) *HttpError {
	e.Cause = cause
	return e
}

// NewHttpError creates a new HttpError with the given status code and message
func NewHttpError(statusCode int, message string) *HttpError {
	return &HttpError{
		StatusCode: statusCode,
		Message:    message,
	}
}

// Common HTTP error constructors for convenience

// ErrBadRequest creates a 400 Bad Request error
func ErrBadRequest(message string) *HttpError {
	return NewHttpError(http.StatusBadRequest, message)
}

// ErrUnauthorized creates a 401 Unauthorized error
func ErrUnauthorized(message string) *HttpError {
	return NewHttpError(http.StatusUnauthorized, message)
}

// ErrForbidden creates a 403 Forbidden error
func ErrForbidden(message string) *HttpError {
	return NewHttpError(http.StatusForbidden, message)
}

// ErrNotFound creates a 404 Not Found error
func ErrNotFound(message string) *HttpError {
	return NewHttpError(http.StatusNotFound, message)
}

// ErrMethodNotAllowed creates a 405 Method Not Allowed error
func ErrMethodNotAllowed(message string) *HttpError {
	return NewHttpError(http.StatusMethodNotAllowed, message)
}

// ErrConflict creates a 409 Conflict error
func ErrConflict(message string) *HttpError {
	return NewHttpError(http.StatusConflict, message)
}

// ErrRequestEntityTooLarge creates a 413 error
func ErrRequestEntityTooLarge(message string) *HttpError {
	return NewHttpError(http.StatusRequestEntityTooLarge, message)
}

// ErrTooManyRequests creates a 429 Too Many Requests error
func ErrTooManyRequests(message string) *HttpError {
	return NewHttpError(http.StatusTooManyRequests, message)
}

// ErrInternalServerError creates a 500 Internal Server Error
func ErrInternalServerError(message string) *HttpError {
	return NewHttpError(http.StatusInternalServerError, message)
}

// ResponseContractError is raised when a handler's return value does not
// serialize against the schema it declared for the response status.
type ResponseContractError struct {
	Controller string
	Action     string
	Status     int
	Expected   string
	Actual     any
	Cause      error
}

func (e *ResponseContractError) Error() string {
	return fmt.Sprintf("response contract violation in %s.%s (status %d): %v; expected schema %s, got %#v",
		e.Controller, e.Action, e.Status, e.Cause, e.Expected, e.Actual)
}

func (e *ResponseContractError) Unwrap() error {
	return e.Cause
}

// Build-time error types, raised by App.Build.
type (
	RegistrationError  = werrors.RegistrationError
	RouteConflictError = werrors.RouteConflictError
	SchemaError        = werrors.SchemaError
	BindingError       = werrors.BindingError
)
