package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/script"
)

func TestValidateValid(t *testing.T) {
	decls := []ir.Declaration{
		{ID: 0, Targets: []ir.Target{{ComponentID: 1, Event: "click"}}, Inputs: []int{1}, Outputs: []int{2}, Backend: true},
		{ID: 1, Inputs: []int{2}, Outputs: []int{3}, JS: "args[0] + 1", TriggerAfter: ir.IntPtr(0)},
		{ID: 2, Outputs: []int{4}, Cancels: []int{0}, TriggerMode: ir.TriggerModeMultiple, ConnectionType: ir.ConnectionStream, Backend: true},
	}

	errs := Validate(decls, script.NewExprEvaluator())
	assert.Empty(t, errs, "valid declarations should have no errors")
}

func TestValidateSingleErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []ir.Declaration
		code  string
		field string
	}{
		{
			name:  "duplicate id",
			decls: []ir.Declaration{{ID: 1}, {ID: 1}},
			code:  ErrDuplicateID,
			field: "id",
		},
		{
			name:  "invalid trigger mode",
			decls: []ir.Declaration{{ID: 0, TriggerMode: "sometimes"}},
			code:  ErrInvalidTriggerMode,
			field: "trigger_mode",
		},
		{
			name:  "invalid connection",
			decls: []ir.Declaration{{ID: 0, Backend: true, ConnectionType: "ws"}},
			code:  ErrInvalidConnection,
			field: "connection",
		},
		{
			name:  "dangling trigger_after",
			decls: []ir.Declaration{{ID: 0, TriggerAfter: ir.IntPtr(9)}},
			code:  ErrDanglingTriggerAfter,
			field: "trigger_after",
		},
		{
			name:  "self trigger",
			decls: []ir.Declaration{{ID: 4, TriggerAfter: ir.IntPtr(4)}},
			code:  ErrSelfTrigger,
			field: "trigger_after",
		},
		{
			name:  "unknown cancel",
			decls: []ir.Declaration{{ID: 0, Cancels: []int{3}}},
			code:  ErrUnknownCancel,
			field: "cancels",
		},
		{
			name: "conflicting condition",
			decls: []ir.Declaration{
				{ID: 0},
				{ID: 1, TriggerAfter: ir.IntPtr(0), TriggerOnlyOnSuccess: true, TriggerOnlyOnFailure: true},
			},
			code:  ErrConflictingCondition,
			field: "trigger_only_on_failure",
		},
		{
			name:  "bad js",
			decls: []ir.Declaration{{ID: 0, Outputs: []int{1}, JS: "args[0] +"}},
			code:  ErrInvalidTransform,
			field: "js",
		},
		{
			name:  "bad js_implementation",
			decls: []ir.Declaration{{ID: 0, Backend: true, JSImplementation: "((("}},
			code:  ErrInvalidTransform,
			field: "js_implementation",
		},
		{
			name:  "stream without backend",
			decls: []ir.Declaration{{ID: 0, ConnectionType: ir.ConnectionStream}},
			code:  ErrStreamWithoutBackend,
			field: "connection",
		},
		{
			name:  "empty target event",
			decls: []ir.Declaration{{ID: 0, Targets: []ir.Target{{ComponentID: 1, Event: " "}}}},
			code:  ErrInvalidTarget,
			field: "targets[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.decls, script.NewExprEvaluator())
			require.Len(t, errs, 1, "errors: %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateNilEvaluatorSkipsTransforms(t *testing.T) {
	errs := Validate([]ir.Declaration{{ID: 0, Outputs: []int{1}, JS: "args[0] +"}}, nil)
	assert.Empty(t, errs)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	decls := []ir.Declaration{
		{ID: 0, TriggerMode: "bad", ConnectionType: "bad", Cancels: []int{7}},
		{ID: 0, TriggerAfter: ir.IntPtr(8)},
	}

	errs := Validate(decls, nil)
	assert.Equal(t, []string{
		ErrDuplicateID,
		ErrInvalidTriggerMode,
		ErrInvalidConnection,
		ErrDanglingTriggerAfter,
		ErrUnknownCancel,
	}, Codes(errs))
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{DependencyID: 3, Field: "trigger_after", Message: "boom", Code: ErrSelfTrigger}
	assert.Equal(t, "[E105] dependency 3: trigger_after: boom", err.Error())
}
