package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
)

func compileCUE(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src, cue.Filename("decls.cue"))
	return v
}

func TestCompileDeclarationsBasic(t *testing.T) {
	v := compileCUE(t, `
dependencies: [
	{
		id: 0
		targets: [[1, "click"], [2, "submit"]]
		inputs: [2]
		outputs: [3]
		backend_fn: true
		trigger_mode: "always_last"
		connection: "stream"
		api_name: "predict"
	},
	{
		id: 1
		outputs: [4]
		js: "args[0] * 2"
		trigger_after: 0
		trigger_only_on_success: true
		show_progress: false
		rendered_in: 7
		cancels: [0]
		event_specific_args: {value: "x"}
	},
]
`)

	decls, err := CompileDeclarations(v)
	require.NoError(t, err)
	require.Len(t, decls, 2)

	d := decls[0]
	assert.Equal(t, 0, d.ID)
	assert.Equal(t, []ir.Target{{ComponentID: 1, Event: "click"}, {ComponentID: 2, Event: "submit"}}, d.Targets)
	assert.Equal(t, []int{2}, d.Inputs)
	assert.Equal(t, []int{3}, d.Outputs)
	assert.True(t, d.Backend)
	assert.Equal(t, ir.TriggerModeAlwaysLast, d.Mode())
	assert.Equal(t, ir.ConnectionStream, d.Connection())
	assert.Equal(t, "predict", d.APIName)
	assert.Nil(t, d.TriggerAfter)

	d = decls[1]
	require.NotNil(t, d.TriggerAfter)
	assert.Equal(t, 0, *d.TriggerAfter)
	assert.Equal(t, ir.ConditionSuccess, d.TriggerCondition())
	assert.False(t, d.Progress())
	require.NotNil(t, d.RenderID)
	assert.Equal(t, 7, *d.RenderID)
	assert.Equal(t, []int{0}, d.Cancels)
	assert.Equal(t, "args[0] * 2", d.JS)
	assert.Equal(t, "x", d.EventArgs["value"])
	assert.False(t, d.Backend)
}

func TestCompileDeclarationsTargetMappingForm(t *testing.T) {
	v := compileCUE(t, `dependencies: [{id: 3, targets: [{component_id: 9, event: "change"}]}]`)

	decls, err := CompileDeclarations(v)
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, []ir.Target{{ComponentID: 9, Event: "change"}}, decls[0].Targets)
}

func TestCompileDeclarationsMissingList(t *testing.T) {
	decls, err := CompileDeclarations(compileCUE(t, `other: 1`))
	require.NoError(t, err)
	assert.Nil(t, decls)
}

func TestCompileDeclarationMissingID(t *testing.T) {
	_, err := CompileDeclarations(compileCUE(t, `dependencies: [{backend_fn: true}]`))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "id", ce.Field)
}

func TestCompileDeclarationWrongType(t *testing.T) {
	_, err := CompileDeclarations(compileCUE(t, `dependencies: [{id: 0, backend_fn: "yes"}]`))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "backend_fn", ce.Field)
	assert.True(t, ce.Pos.IsValid())
}

func TestCompileDeclarationBadTargetArity(t *testing.T) {
	_, err := CompileDeclarations(compileCUE(t, `dependencies: [{id: 0, targets: [[1, "click", 3]]}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target must be [id, event]")
}

func TestCompileDeclarationsInvalidCUESyntax(t *testing.T) {
	_, err := CompileDeclarations(compileCUE(t, `dependencies: [{id: }`))
	assert.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "id", Message: "id is required"}
	assert.Equal(t, "id: id is required", err.Error())
}
