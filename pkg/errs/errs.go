// Package errs defines the stable, user-facing error taxonomy shared by every
// pipeline component.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error kind. Codes never change meaning
// once shipped; add new ones rather than repurposing an existing code.
type Code string

const (
	InvalidInput      Code = "INVALID_INPUT"
	ValidationFailed  Code = "VALIDATION_FAILED"
	EvaluationFailed  Code = "EVALUATION_FAILED"
	LLMAPIError       Code = "LLM_API_ERROR"
	LLMParseError     Code = "LLM_PARSE_ERROR"
	RateLimited       Code = "RATE_LIMITED"
	Timeout           Code = "TIMEOUT"
	Cancelled         Code = "CANCELLED"
	ResourceExhausted Code = "RESOURCE_EXHAUSTED"
	ProcessingFailed  Code = "PROCESSING_FAILED"
	IntegrityError    Code = "INTEGRITY_ERROR"
	NotFound          Code = "NOT_FOUND"
	DatabaseError     Code = "DATABASE_ERROR"
	Busy              Code = "BUSY"
	InvalidConfig     Code = "INVALID_CONFIG"
)

// Error is the concrete error type carrying a stable Code alongside a
// human-readable message and an optional wrapped cause.
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

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps cause, preserving it for errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or "" if err isn't (or doesn't wrap) an
// *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
