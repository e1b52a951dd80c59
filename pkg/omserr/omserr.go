// Package omserr is the error taxonomy shared by every OMS core engine.
// Each Code maps to both a gRPC status code (for pkg/api) and an HTTP-ish
// admission response shape (for pkg/freezegate's 423 rejection payload).
package omserr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a taxonomy-level error classification, independent of any
// particular engine's Go error type.
type Code string

const (
	InvalidArgument    Code = "INVALID_ARGUMENT"
	Unauthenticated    Code = "UNAUTHENTICATED"
	Forbidden          Code = "FORBIDDEN"
	NotFound           Code = "NOT_FOUND"
	Conflict           Code = "CONFLICT"
	Locked             Code = "LOCKED"
	PreconditionFailed Code = "PRECONDITION_FAILED"
	Timeout            Code = "TIMEOUT"
	Unavailable        Code = "UNAVAILABLE"
	Exhausted          Code = "EXHAUSTED"
	Internal           Code = "INTERNAL"
)

// grpcCode maps each Code to the nearest-matching grpc status code.
var grpcCode = map[Code]codes.Code{
	InvalidArgument:    codes.InvalidArgument,
	Unauthenticated:    codes.Unauthenticated,
	Forbidden:          codes.PermissionDenied,
	NotFound:           codes.NotFound,
	Conflict:           codes.AlreadyExists,
	Locked:             codes.FailedPrecondition,
	PreconditionFailed: codes.FailedPrecondition,
	Timeout:            codes.DeadlineExceeded,
	Unavailable:        codes.Unavailable,
	Exhausted:          codes.ResourceExhausted,
	Internal:           codes.Internal,
}

// httpStatus maps each Code to the HTTP status pkg/api's JSON API surfaces
// it as. Locked maps to 423, returned when a write is rejected because a
// branch lock is held by someone else.
var httpStatus = map[Code]int{
	InvalidArgument:    http.StatusBadRequest,
	Unauthenticated:    http.StatusUnauthorized,
	Forbidden:          http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	Conflict:           http.StatusConflict,
	Locked:             http.StatusLocked,
	PreconditionFailed: http.StatusPreconditionFailed,
	Timeout:            http.StatusGatewayTimeout,
	Unavailable:        http.StatusServiceUnavailable,
	Exhausted:          http.StatusTooManyRequests,
	Internal:           http.StatusInternalServerError,
}

// Error is the common error type every OMS engine returns at its public
// boundary. Internal packages may return narrower typed errors (e.g.
// store.ErrVersionConflict, lockmanager.ErrLockConflict); callers at the
// API boundary wrap those into an Error via Wrap so pkg/api and
// pkg/freezegate only ever need to branch on Code.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// GRPCCode returns the grpc status code this Error should be surfaced as.
func (e *Error) GRPCCode() codes.Code {
	if c, ok := grpcCode[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status this Error should be surfaced as.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code/message to an underlying error, preserving it for
// errors.Is/As/Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of e with Details merged in, for structured
// fields the freeze-gate 423 payload or an audit record wants to carry
// (e.g. "lock_id", "held_by", "expires_at").
func (e *Error) WithDetails(details map[string]string) *Error {
	merged := make(map[string]string, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Details: merged, cause: e.cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// defaulting to Internal otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
