// Package httperror provides status-coded error types for the gateway's
// request pipeline. Engines and fronts create these at the point of failure;
// the transport layer maps them to responses with FromError and Response.
package httperror

import (
	"errors"
	"fmt"
)

// Error implements the error interface with HTTP status code support.
type Error struct {
	code    int
	message string
	cause   error
}

// Error returns the error message including the cause, if any.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the HTTP status code.
func (e *Error) Code() int { return e.code }

// Message returns the error message without the cause. This is the only
// text safe to return to clients: driver and connection detail stays in
// the cause chain.
func (e *Error) Message() string { return e.message }

// Unwrap returns the underlying cause for errors.As/errors.Is support.
func (e *Error) Unwrap() error { return e.cause }

// New creates a new error with the given code and message.
func New(code int, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a new error with the given code and formatted message.
func Newf(code int, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a status-coded error.
func Wrap(code int, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

// Wrapf wraps an underlying error with a status-coded error and formatted message.
func Wrapf(code int, cause error, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...), cause: cause}
}

// 400 Bad Request

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{code: 400, message: message}
}

// BadRequestf creates a 400 Bad Request error with a formatted message.
func BadRequestf(format string, args ...any) *Error {
	return &Error{code: 400, message: fmt.Sprintf(format, args...)}
}

// 401 Unauthorized

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	return &Error{code: 401, message: message}
}

// Unauthorizedf creates a 401 Unauthorized error with a formatted message.
func Unauthorizedf(format string, args ...any) *Error {
	return &Error{code: 401, message: fmt.Sprintf(format, args...)}
}

// 403 Forbidden

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *Error {
	return &Error{code: 403, message: message}
}

// Forbiddenf creates a 403 Forbidden error with a formatted message.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{code: 403, message: fmt.Sprintf(format, args...)}
}

// 404 Not Found

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	return &Error{code: 404, message: message}
}

// NotFoundf creates a 404 Not Found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{code: 404, message: fmt.Sprintf(format, args...)}
}

// 409 Conflict

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return &Error{code: 409, message: message}
}

// Conflictf creates a 409 Conflict error with a formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{code: 409, message: fmt.Sprintf(format, args...)}
}

// 500 Internal Server Error

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	return &Error{code: 500, message: message}
}

// InternalErrorf creates a 500 Internal Server Error with a formatted message.
func InternalErrorf(format string, args ...any) *Error {
	return &Error{code: 500, message: fmt.Sprintf(format, args...)}
}

// 503 Service Unavailable

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	return &Error{code: 503, message: message}
}

// ServiceUnavailablef creates a 503 Service Unavailable error with a formatted message.
func ServiceUnavailablef(format string, args ...any) *Error {
	return &Error{code: 503, message: fmt.Sprintf(format, args...)}
}

// Gateway taxonomy constructors. The public message is fixed; everything
// the driver said travels in the cause chain and never reaches a client.

// DatabaseError wraps a failed database operation as a 500.
func DatabaseError(cause error) *Error {
	return &Error{code: 500, message: "database operation failed", cause: cause}
}

// TransientError wraps a transient database failure that survived every
// retry attempt as a 503.
func TransientError(cause error) *Error {
	return &Error{code: 503, message: "the database is temporarily unavailable", cause: cause}
}

// Unexpected wraps an unclassified failure as a 500.
func Unexpected(cause error) *Error {
	return &Error{code: 500, message: "an unexpected error occurred", cause: cause}
}

// FromError normalizes any error into an *Error. Status-coded errors pass
// through unchanged, anything else becomes Unexpected.
func FromError(err error) *Error {
	var herr *Error
	if errors.As(err, &herr) {
		return herr
	}
	return Unexpected(err)
}

// Response returns the status code and client-facing message for err.
// With verbose set (development mode) the full cause chain is exposed;
// otherwise only the redacted message.
func Response(err error, verbose bool) (int, string) {
	herr := FromError(err)
	if verbose {
		return herr.Code(), herr.Error()
	}
	return herr.Code(), herr.Message()
}
