package optimization

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; every *Error returned by the
// annealing packages wraps exactly one of these.
var (
	// ErrUnevaluable means the cost function could not produce an energy for
	// a state. It is recoverable: the chain keeps its current state.
	ErrUnevaluable = errors.New("state is unevaluable")

	// ErrEvaluationTimeout means an evaluation exceeded its bounded wait. It
	// is handled exactly like ErrUnevaluable and matches it under errors.Is.
	ErrEvaluationTimeout = fmt.Errorf("evaluation timed out: %w", ErrUnevaluable)

	// ErrCalibration means the temperature bounds could not be estimated,
	// usually because the initial state has no energy.
	ErrCalibration = errors.New("temperature calibration failed")

	// ErrInvalidConfig is returned before any chain starts.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInterrupted is returned when a run is cancelled before any chain
	// produced a candidate. Runs interrupted later return their best so far.
	ErrInterrupted = errors.New("run interrupted")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation or run stage that caused the error.
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
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
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

// NewError creates an error of the given kind with a formatted message.
func NewError(kind error, format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Unevaluable returns an ErrUnevaluable error carrying cause. Problem
// implementations use it to report a benchmark that could not run.
func Unevaluable(cause error) error {
	if cause == nil {
		return ErrUnevaluable
	}
	return fmt.Errorf("%w: %w", ErrUnevaluable, cause)
}

// IsOptimizationError checks if an error chain contains an *Error.
// If it does, it returns the outermost one and true.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsFatal reports whether err stops a run. Unevaluable states and timeouts
// are handled inside the chain and never reach the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnevaluable)
}
