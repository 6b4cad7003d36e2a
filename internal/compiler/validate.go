package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/script"
)

// Validation error codes (E100-E199)
const (
	ErrDuplicateID          = "E101" // two declarations share an id
	ErrInvalidTriggerMode   = "E102" // unknown trigger_mode
	ErrInvalidConnection    = "E103" // unknown connection type
	ErrDanglingTriggerAfter = "E104" // trigger_after names an undeclared id
	ErrSelfTrigger          = "E105" // trigger_after names the declaration itself
	ErrUnknownCancel        = "E106" // cancels names an undeclared id
	ErrConflictingCondition = "E107" // both success-only and failure-only
	ErrInvalidTransform     = "E108" // js or js_implementation does not compile
	ErrStreamWithoutBackend = "E109" // stream connection on a frontend-only dependency
	ErrInvalidTarget        = "E110" // target with an empty event name
)

// ValidationError represents a declaration validation error.
type ValidationError struct {
	DependencyID int    `json:"dependency_id"`
	Field        string `json:"field"`
	Message      string `json:"message"`
	Code         string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] dependency %d: %s: %s", e.Code, e.DependencyID, e.Field, e.Message)
}

// Validate checks a declaration set. Returns all errors found (does not
// fail-fast), ordered by declaration position. Transforms are compiled
// with eval; a nil eval skips that check.
func Validate(decls []ir.Declaration, eval script.Evaluator) []ValidationError {
	var errs []ValidationError

	declared := make(map[int]bool, len(decls))
	for _, d := range decls {
		if declared[d.ID] {
			errs = append(errs, ValidationError{
				DependencyID: d.ID,
				Field:        "id",
				Message:      fmt.Sprintf("duplicate dependency id %d", d.ID),
				Code:         ErrDuplicateID,
			})
		}
		declared[d.ID] = true
	}

	for _, d := range decls {
		errs = append(errs, validateDeclaration(d, declared, eval)...)
	}
	return errs
}

func validateDeclaration(d ir.Declaration, declared map[int]bool, eval script.Evaluator) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			DependencyID: d.ID,
			Field:        field,
			Message:      fmt.Sprintf(format, args...),
			Code:         code,
		})
	}

	if d.TriggerMode != "" && !ir.ValidTriggerModes[d.TriggerMode] {
		add("trigger_mode", ErrInvalidTriggerMode,
			"invalid trigger mode %q, must be \"once\", \"multiple\", or \"always_last\"", d.TriggerMode)
	}

	switch d.ConnectionType {
	case "", ir.ConnectionSSE, ir.ConnectionStream:
	default:
		add("connection", ErrInvalidConnection,
			"invalid connection %q, must be \"sse\" or \"stream\"", d.ConnectionType)
	}
	if d.Connection() == ir.ConnectionStream && !d.Backend {
		add("connection", ErrStreamWithoutBackend, "stream connection requires backend_fn")
	}

	for i, t := range d.Targets {
		if strings.TrimSpace(t.Event) == "" {
			add(fmt.Sprintf("targets[%d]", i), ErrInvalidTarget, "target event name is empty")
		}
	}

	if d.TriggerAfter != nil {
		switch {
		case *d.TriggerAfter == d.ID:
			add("trigger_after", ErrSelfTrigger, "dependency cannot trigger after itself")
		case !declared[*d.TriggerAfter]:
			add("trigger_after", ErrDanglingTriggerAfter,
				"trigger_after references undeclared dependency %d", *d.TriggerAfter)
		}
	}
	if d.TriggerOnlyOnSuccess && d.TriggerOnlyOnFailure {
		add("trigger_only_on_failure", ErrConflictingCondition,
			"trigger_only_on_success and trigger_only_on_failure are mutually exclusive")
	}

	for _, c := range d.Cancels {
		if !declared[c] {
			add("cancels", ErrUnknownCancel, "cancels references undeclared dependency %d", c)
		}
	}

	if eval != nil {
		if d.JSImplementation != "" {
			if _, err := eval.Compile(d.JSImplementation, true); err != nil {
				add("js_implementation", ErrInvalidTransform, "%v", err)
			}
		} else if d.JS != "" {
			wrap := len(d.Outputs) == 1
			if d.Backend {
				wrap = len(d.Inputs) == 1
			}
			if _, err := eval.Compile(d.JS, wrap); err != nil {
				add("js", ErrInvalidTransform, "%v", err)
			}
		}
	}

	return errs
}

// Codes returns the distinct codes in errs, sorted.
func Codes(errs []ValidationError) []string {
	var codes []string
	for _, e := range errs {
		if !slices.Contains(codes, e.Code) {
			codes = append(codes, e.Code)
		}
	}
	slices.Sort(codes)
	return codes
}
