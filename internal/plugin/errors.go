package plugin

import (
	"errors"
)

// Error is the structured error contract plugins return from Evaluate
// and Apply. The executor uses the concrete type to decide how a
// failure is handled: bad configuration is fatal, execution failures
// honor continue_on_error, and state-detection failures skip the step
// with a warning.
type Error interface {
	error
	StepID() string
	Unwrap() error
}

// ValidationError represents malformed or missing step configuration.
type ValidationError struct {
	ID  string
	Err error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(stepID string, err error) *ValidationError {
	return &ValidationError{ID: stepID, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation error in step " + e.ID
	}
	return "validation error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *ValidationError) StepID() string { return e.ID }

// Unwrap returns the underlying validation error.
func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches any other ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ExecutionError represents an external operation failure: a command
// exited non-zero, a download failed, a file could not be written.
type ExecutionError struct {
	ID  string
	Err error
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(stepID string, err error) *ExecutionError {
	return &ExecutionError{ID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "execution error in step " + e.ID
	}
	return "execution error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *ExecutionError) StepID() string { return e.ID }

// Unwrap returns the underlying execution error.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Is matches any other ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	_, ok := target.(*ExecutionError)
	return ok
}

// StateError means the current host state could not be determined, so
// the idempotency check cannot be evaluated. Verify reports such steps
// as Unknown; apply skips them with a warning.
type StateError struct {
	ID  string
	Err error
}

// NewStateError creates a new StateError.
func NewStateError(stepID string, err error) *StateError {
	return &StateError{ID: stepID, Err: err}
}

func (e *StateError) Error() string {
	if e.Err == nil {
		return "state error in step " + e.ID
	}
	return "state error in step " + e.ID + ": " + e.Err.Error()
}

// StepID returns the identifier of the step where the error occurred.
func (e *StateError) StepID() string { return e.ID }

// Unwrap returns the underlying state detection error.
func (e *StateError) Unwrap() error { return e.Err }

// Is matches any other StateError.
func (e *StateError) Is(target error) bool {
	_, ok := target.(*StateError)
	return ok
}

// AsError attempts to convert any error to a plugin Error.
func AsError(err error) (Error, bool) {
	var pluginErr Error
	if errors.As(err, &pluginErr) {
		return pluginErr, true
	}
	return nil, false
}
