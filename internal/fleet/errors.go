// Package fleet implements the fleet controller: it turns tenant requests
// into running, isolated worker containers, tracks the live set across a
// shared container runtime, enforces per-tenant quotas, and reports resource
// usage.
package fleet

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure so callers can branch on the class
// instead of parsing message strings.
type Kind string

const (
	// KindInvalidName indicates the instance name violates the naming rule.
	KindInvalidName Kind = "invalid_name"
	// KindAlreadyExists indicates the tenant already owns an instance with that name.
	KindAlreadyExists Kind = "already_exists"
	// KindInvalidInput indicates a tenant-supplied document failed to parse.
	KindInvalidInput Kind = "invalid_input"
	// KindQuotaExceeded indicates the tenant is at their instance or credit limit.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindProvisioningFailed indicates the parse stage failed; Log carries its output.
	KindProvisioningFailed Kind = "provisioning_failed"
	// KindNotFound indicates no such instance for this tenant.
	KindNotFound Kind = "not_found"
	// KindAlreadyRunning indicates a start/launch precondition violation.
	KindAlreadyRunning Kind = "already_running"
	// KindNotRunning indicates a stop precondition violation.
	KindNotRunning Kind = "not_running"
	// KindRuntimeFailure indicates the container runtime call itself failed.
	KindRuntimeFailure Kind = "runtime_failure"
)

// Error is the typed operation failure returned by every fleet operation.
type Error struct {
	Kind    Kind
	Message string
	// Log holds the captured parse-stage output on provisioning failures.
	Log string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a fleet error with a formatted message.
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapError builds a fleet error wrapping an underlying cause.
func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a fleet error, and ""
// otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// LogOf returns the captured provisioning log attached to err, if any.
func LogOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Log
	}
	return ""
}
