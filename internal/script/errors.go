package script

import (
	"errors"
	"fmt"
)

// ErrEmptySource is returned when compiling an empty transform.
var ErrEmptySource = errors.New("empty transform source")

// Error is returned when a transform fails to compile or run.
type Error struct {
	Source string // The transform source that failed
	Phase  string // "compile" or "run"
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %q failed during %s: %v", e.Source, e.Phase, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewCompileError wraps a compilation failure.
func NewCompileError(source string, cause error) error {
	return &Error{Source: source, Phase: "compile", Cause: cause}
}

// NewRunError wraps a runtime failure.
func NewRunError(source string, cause error) error {
	return &Error{Source: source, Phase: "run", Cause: cause}
}

// IsCompileError reports whether err is a compile-phase transform error.
func IsCompileError(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Phase == "compile"
}
