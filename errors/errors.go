// Package errors provides the management-API fault taxonomy for router
// workers. Every fault that crosses the management RPC boundary carries a
// stable code plus a human-readable message, and helper functions exist for
// consistent wrapping and classification across the worker.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable fault code surfaced to remote management callers.
type Code string

// Fault codes. These are part of the management API and must not change.
const (
	// CodeAlreadyRunning indicates a create for an id that is already
	// running (or still starting).
	CodeAlreadyRunning Code = "crossbar.error.already_running"
	// CodeAlreadyExists indicates a create for an id already present in a
	// nested registry (roles, uplinks).
	CodeAlreadyExists Code = "crossbar.error.already_exists"
	// CodeNoSuchObject indicates an unknown id, reference or realm URI.
	CodeNoSuchObject Code = "crossbar.error.no_such_object"
	// CodeInvalidConfiguration indicates a schema or reference-resolution
	// failure.
	CodeInvalidConfiguration Code = "crossbar.error.invalid_configuration"
	// CodeCannotListen indicates the I/O substrate failed to bind a
	// transport endpoint.
	CodeCannotListen Code = "crossbar.error.cannot_listen"
	// CodeCannotStop indicates a failure while unbinding or detaching.
	CodeCannotStop Code = "crossbar.error.cannot_stop"
	// CodeClassImportFailed indicates a dynamic constructor lookup failure.
	CodeClassImportFailed Code = "crossbar.error.class_import_failed"
	// CodeNotRunning indicates a stop for a transport that is not running.
	CodeNotRunning Code = "crossbar.error.not_running"
	// CodeNotImplemented marks declared-but-unfinished operations; it is a
	// hard failure, never a silent success.
	CodeNotImplemented Code = "crossbar.error.not_implemented"
	// CodeRuntime is the fallback for unclassified internal failures.
	CodeRuntime Code = "crossbar.error.runtime_error"
)

// ApplicationError is a fault with a stable code that reaches remote
// management callers. It wraps an optional underlying error and records the
// component/operation that raised it.
type ApplicationError struct {
	Code      Code
	Message   string
	Component string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	}
	return string(e.Code)
}

// Unwrap returns the underlying error.
func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// New creates an ApplicationError with a formatted message.
func New(code Code, format string, args ...any) *ApplicationError {
	return &ApplicationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an ApplicationError around err following the pattern
// "component.operation: message: err".
func Wrap(err error, code Code, component, operation, message string) *ApplicationError {
	return &ApplicationError{
		Code:      code,
		Message:   fmt.Sprintf("%s.%s: %s: %v", component, operation, message, err),
		Component: component,
		Operation: operation,
		Err:       err,
	}
}

// CodeOf returns the fault code carried by err, or CodeRuntime when err is
// not an ApplicationError. A nil error has no code and returns "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeRuntime
}

// HasCode reports whether err carries the given fault code.
func HasCode(err error, code Code) bool {
	var ae *ApplicationError
	return errors.As(err, &ae) && ae.Code == code
}

// IsDuplicate reports whether err indicates a duplicate-id create.
func IsDuplicate(err error) bool {
	return HasCode(err, CodeAlreadyRunning) || HasCode(err, CodeAlreadyExists)
}

// IsNotFound reports whether err indicates an unknown object.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNoSuchObject) || HasCode(err, CodeNotRunning)
}

// IsInvalidConfiguration reports whether err indicates bad configuration.
func IsInvalidConfiguration(err error) bool {
	return HasCode(err, CodeInvalidConfiguration)
}

// NotImplemented creates the hard failure used by declared-but-unfinished
// management operations.
func NotImplemented(component, operation string) *ApplicationError {
	return &ApplicationError{
		Code:      CodeNotImplemented,
		Message:   fmt.Sprintf("%s.%s: not implemented", component, operation),
		Component: component,
		Operation: operation,
	}
}
