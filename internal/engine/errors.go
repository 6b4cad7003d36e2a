package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the manager.
//
// Runtime errors include:
//   - Compile: a transform failed to compile while building a dependency
//   - Unknown dependency: a dispatch named an id that is not registered
//   - Execution: the backend reported an error for a call
//   - Quota exceeded: a trigger chain fired too many dispatches
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Title is the user facing headline for execution errors.
	Title string

	// DependencyID identifies the affected dependency, -1 when unknown.
	DependencyID int

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCompile indicates a malformed transform.
	ErrCodeCompile RuntimeErrorCode = "COMPILE_ERROR"

	// ErrCodeUnknownDependency indicates a dispatch referenced a missing id.
	ErrCodeUnknownDependency RuntimeErrorCode = "UNKNOWN_DEPENDENCY"

	// ErrCodeExecution indicates the backend failed a call.
	ErrCodeExecution RuntimeErrorCode = "EXECUTION_ERROR"

	// ErrCodeQuotaExceeded indicates a chain exceeded the max steps quota.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.DependencyID >= 0 {
		msg = fmt.Sprintf("%s (dependency=%d)", msg, e.DependencyID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewCompileError creates a RuntimeError for a transform that failed to compile.
func NewCompileError(depID int, err error) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeCompile,
		Message:      "failed to compile transform",
		DependencyID: depID,
		Err:          err,
	}
}

// NewUnknownDependencyError creates a RuntimeError for a missing id.
func NewUnknownDependencyError(depID int) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeUnknownDependency,
		Message:      "no dependency registered with this id",
		DependencyID: depID,
	}
}

// NewExecutionError creates a RuntimeError for a backend failure.
func NewExecutionError(depID int, title, message string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeExecution,
		Message:      message,
		Title:        title,
		DependencyID: depID,
	}
}

// NewQuotaError creates a RuntimeError for a dispatch dropped by the step
// quota. depID is -1 for UI events.
func NewQuotaError(depID int, err *StepsExceededError) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeQuotaExceeded,
		Message:      "max steps quota exceeded",
		DependencyID: depID,
		Err:          err,
	}
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsCompileError returns true if the error is a compile error.
// Uses errors.As to handle wrapped errors.
func IsCompileError(err error) bool {
	return hasCode(err, ErrCodeCompile)
}

// IsExecutionError returns true if the error is a backend execution error.
func IsExecutionError(err error) bool {
	return hasCode(err, ErrCodeExecution)
}

// IsUnknownDependencyError returns true if a dispatch named a missing id.
func IsUnknownDependencyError(err error) bool {
	return hasCode(err, ErrCodeUnknownDependency)
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}
