package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
)

func compile(t *testing.T, source string, wrap bool) Function {
	t.Helper()
	fn, err := NewExprEvaluator().Compile(source, wrap)
	require.NoError(t, err)
	return fn
}

func TestCompile_Empty(t *testing.T) {
	_, err := NewExprEvaluator().Compile("", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptySource)
	assert.True(t, IsCompileError(err))
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := NewExprEvaluator().Compile("args[0] +", true)
	require.Error(t, err)
	assert.True(t, IsCompileError(err))
}

func TestCall_WrapSingleValue(t *testing.T) {
	fn := compile(t, "upper(arg)", true)

	outs, err := fn.Call(context.Background(), []any{"hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []ir.Output{ir.Some("HI")}, outs)
}

func TestCall_ListResult(t *testing.T) {
	fn := compile(t, "[args[1], args[0]]", false)

	outs, err := fn.Call(context.Background(), []any{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Outputs("b", "a"), outs)
}

func TestCall_NoWrapRejectsScalar(t *testing.T) {
	fn := compile(t, "len(args)", false)

	_, err := fn.Call(context.Background(), []any{"a", "b"}, nil)
	require.Error(t, err)
	assert.False(t, IsCompileError(err))
}

func TestCall_NilIsNoOutputs(t *testing.T) {
	fn := compile(t, "nil", true)

	outs, err := fn.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, outs)
}

func TestCall_Skip(t *testing.T) {
	fn := compile(t, `[skip(), "x"]`, false)

	outs, err := fn.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.False(t, outs[0].IsSet())
	assert.Equal(t, "x", outs[1].Value())
}

func TestCall_Update(t *testing.T) {
	fn := compile(t, `update({"visible": false})`, true)

	outs, err := fn.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.True(t, ir.IsUpdate(outs[0].Value()))
}

func TestCall_EventData(t *testing.T) {
	fn := compile(t, `event.index`, true)

	outs, err := fn.Call(context.Background(), nil, map[string]any{"index": 4})
	require.NoError(t, err)
	assert.Equal(t, []ir.Output{ir.Some(4)}, outs)
}

func TestCall_RuntimeError(t *testing.T) {
	fn := compile(t, "args[3]", true)

	_, err := fn.Call(context.Background(), []any{"a"}, nil)
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "run", se.Phase)
}

func TestCall_CanceledContext(t *testing.T) {
	fn := compile(t, "arg", true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fn.Call(ctx, []any{"a"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
