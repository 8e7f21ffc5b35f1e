// Package apperr defines the closed error taxonomy shared by every kernel
// subsystem and the boundary layer that maps it onto the RPC envelope.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a fixed, closed set of error classes. New values are never added
// ad hoc; every caller site either matches one of these or wraps TRANSIENT.
type Code string

const (
	InvalidInput Code = "INVALID_INPUT"
	NotFound     Code = "NOT_FOUND"
	Forbidden    Code = "FORBIDDEN"
	InvalidState Code = "INVALID_STATE"
	Conflict     Code = "CONFLICT"
	RateLimit    Code = "RATE_LIMIT"
	Transient    Code = "TRANSIENT"
	Fatal        Code = "FATAL"
)

// httpStatus maps each code to the HTTP status the boundary layer returns.
var httpStatus = map[Code]int{
	InvalidInput: 400,
	NotFound:     404,
	Forbidden:    403,
	InvalidState: 409,
	Conflict:     409,
	RateLimit:    429,
	Transient:    503,
	Fatal:        500,
}

// HTTPStatus returns the status code the boundary layer should answer with.
func HTTPStatus(c Code) int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return 500
}

// Error is a typed kernel error carrying a Code, a human message, and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code, so errors.Is
// against any *Error matches every error of that code regardless of message
// or cause. To test an error against a bare Code, use the package-level Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error carrying cause as its Unwrap target.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err, defaulting to FATAL for errors that were
// never classified — an unclassified error reaching the boundary is itself a
// bug, so it surfaces as the most severe class rather than silently as 500
// without a code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Fatal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
