// Package hosterror defines the error taxonomy shared by every host
// component. Errors carry a stable machine-readable code so the call
// surface can map them to transport status without string matching.
package hosterror

import (
	"errors"
	"fmt"
)

// Code identifies a class of host failure.
type Code string

const (
	CodeLoadError       Code = "load_error"
	CodeNotFound        Code = "not_found"
	CodeValidationError Code = "validation_error"
	CodeUnprovisioned   Code = "unprovisioned"
	CodeQueryRejected   Code = "query_rejected"
	CodePoolExhausted   Code = "pool_exhausted"
	CodeTimeout         Code = "timeout"
	CodeBackendError    Code = "backend_error"
)

// backendMessageLimit bounds how much backend error text crosses the
// caller boundary. Full text is logged server-side only.
const backendMessageLimit = 200

// Error is a typed host error.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, hosterror.PoolExhausted("")) style checks against
// sentinel values built by the constructors below.
func (e *Error) Is(target error) bool {
	var he *Error
	if !errors.As(target, &he) {
		return false
	}
	return e.Code == he.Code
}

// New creates an Error with an explicit code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// LoadError reports a plugin that cannot be loaded. Fatal at startup.
func LoadError(format string, args ...any) *Error {
	return New(CodeLoadError, format, args...)
}

// NotFound reports an unknown tool name.
func NotFound(tool string) *Error {
	return New(CodeNotFound, "tool not found: %s", tool)
}

// ValidationError reports arguments that do not satisfy a tool's
// parameter schema.
func ValidationError(format string, args ...any) *Error {
	return New(CodeValidationError, format, args...)
}

// Unprovisioned reports a caller with no shadow credential.
func Unprovisioned(format string, args ...any) *Error {
	return New(CodeUnprovisioned, format, args...)
}

// QueryRejected reports a statement refused by the query validator.
func QueryRejected(reason string) *Error {
	return New(CodeQueryRejected, "query rejected: %s", reason)
}

// PoolExhausted reports a bounded-wait acquisition failure. Retryable.
func PoolExhausted(source string) *Error {
	e := New(CodePoolExhausted, "connection pool exhausted for source %s", source)
	e.Retryable = true
	return e
}

// Timeout reports an external call that exceeded its bound.
func Timeout(format string, args ...any) *Error {
	return New(CodeTimeout, format, args...)
}

// Backend wraps a data-source failure. The message is truncated before
// it reaches the caller; log the original error server-side.
func Backend(err error) *Error {
	return New(CodeBackendError, "%s", truncate(err.Error(), backendMessageLimit))
}

// Backendf builds a backend error from a caller-safe message.
func Backendf(format string, args ...any) *Error {
	return New(CodeBackendError, "%s", truncate(fmt.Sprintf(format, args...), backendMessageLimit))
}

// FromPanic converts a recovered panic value into a generic backend
// error. The panic detail must never be returned to the caller.
func FromPanic(v any) *Error {
	_ = v
	return New(CodeBackendError, "internal error during tool execution")
}

// CodeOf extracts the code from an error chain, or CodeBackendError if
// the chain contains no typed host error.
func CodeOf(err error) Code {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return CodeBackendError
}

// AsError normalizes an arbitrary error into a typed host error,
// truncating anything that is not already typed.
func AsError(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	return Backend(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}
