// Package errors provides classified, stack-carrying errors for the nmrmix
// services.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Kind classifies an error for callers at the service boundary.
type Kind int

const (
	// KindInternal is the zero Kind: an unexpected failure.
	KindInternal Kind = iota
	// KindInvalid means the request or its data was rejected.
	KindInvalid
	// KindNotFound means the referenced run or job does not exist.
	KindNotFound
	// KindConflict means the operation does not fit the current state.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error represents an error with context and stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// Kind classifies the error
	Kind Kind
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{
		Message: msg,
		Kind:    kind,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
		Stack:   getStackTrace(),
	}
}

// Wrap wraps err with a message. The kind is inherited from err.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Err:     err,
		Message: msg,
		Kind:    KindOf(err),
		Stack:   getStackTrace(),
	}
}

// Wrapf wraps err with a formatted message. The kind is inherited from err.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithKind wraps err and reclassifies it.
func WithKind(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, "")
	e.Kind = kind
	return e
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Optimization errors are classified by their sentinel.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	switch {
	case err == nil:
		return KindInternal
	case stderrors.Is(err, optimization.ErrDuplicateCompound):
		return KindConflict
	case stderrors.Is(err, optimization.ErrInvalidParameter),
		stderrors.Is(err, optimization.ErrEmptyPeakList),
		stderrors.Is(err, optimization.ErrUnknownCompound),
		stderrors.Is(err, optimization.ErrNoCompounds):
		return KindInvalid
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors/errors.go") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
