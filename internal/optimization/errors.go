package optimization

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the engine distinguishes.
// Wrap them with %w so callers can use errors.Is.
var (
	// ErrInvalidParameter reports a configuration value outside its valid range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrEmptyPeakList reports an attempt to normalize or score an empty peak list.
	ErrEmptyPeakList = errors.New("empty peak list")
	// ErrUnknownCompound reports a mixture member missing from the library.
	ErrUnknownCompound = errors.New("unknown compound")
	// ErrDuplicateCompound reports a compound id that is already in the library.
	ErrDuplicateCompound = errors.New("duplicate compound")
	// ErrNoCompounds reports that no mixtures can be generated from the library.
	ErrNoCompounds = errors.New("no active compounds")
	// ErrCancelled reports a run stopped by its caller.
	ErrCancelled = errors.New("optimization cancelled")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = e.Component + ": " + e.Op
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if prefix != "" {
		return prefix + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsOptimizationError reports whether err, or any error it wraps, is an *Error.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
