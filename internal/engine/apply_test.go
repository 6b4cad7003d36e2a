package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/components"
	"github.com/roach88/depflow/internal/ir"
)

func TestApplyOutputs_PlainValues(t *testing.T) {
	f := newFixture(t, nil, nil)

	err := f.mgr.ApplyOutputs(context.Background(), []int{1, 2, 3}, []ir.Output{ir.Some("a"), ir.Unset, ir.Some(nil)})
	require.NoError(t, err)

	assert.Equal(t, []components.Update{
		{ID: 1, Patch: map[string]any{"value": "a"}},
		{ID: 3, Patch: map[string]any{"value": nil}},
	}, f.state.History(), "unset skips, explicit null clears")
}

func TestApplyOutputs_MissingTrailingValues(t *testing.T) {
	f := newFixture(t, nil, map[int]map[string]any{2: {"value": "keep"}})

	require.NoError(t, f.mgr.ApplyOutputs(context.Background(), []int{1, 2}, ir.Outputs("a")))

	assert.Equal(t, "keep", f.state.Value(2))
	assert.Len(t, f.state.History(), 1)
}

func TestApplyOutputs_Idempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	outputs := []int{1, 2}
	data := []ir.Output{ir.Some("x"), ir.Some(ir.Update(map[string]any{"label": "L", "visible": true}))}

	require.NoError(t, f.mgr.ApplyOutputs(ctx, outputs, data))
	first := f.state.Snapshot()
	require.NoError(t, f.mgr.ApplyOutputs(ctx, outputs, data))

	assert.Equal(t, first, f.state.Snapshot())
}

func TestApplyOutputs_VisibilityLast(t *testing.T) {
	f := newFixture(t, nil, nil)
	env := ir.Update(map[string]any{"visible": false, "label": "x", "interactive": true})

	require.NoError(t, f.mgr.ApplyOutputs(context.Background(), []int{7}, []ir.Output{ir.Some(env)}))

	history := f.state.HistoryFor(7)
	require.Len(t, history, 2)
	assert.Equal(t, map[string]any{"label": "x", "interactive": true}, history[0].Patch)
	assert.False(t, history[0].Visibility)
	assert.Equal(t, map[string]any{"visible": false}, history[1].Patch)
	assert.True(t, history[1].Visibility)

	assert.NotContains(t, f.state.Snapshot()[7], ir.TypeKey)
}

func TestApplyOutputs_EnvelopeWithoutVisible(t *testing.T) {
	f := newFixture(t, nil, nil)

	require.NoError(t, f.mgr.ApplyOutputs(context.Background(), []int{7},
		[]ir.Output{ir.Some(ir.Update(map[string]any{"value": 3}))}))

	history := f.state.HistoryFor(7)
	require.Len(t, history, 1)
	assert.Equal(t, map[string]any{"value": 3}, history[0].Patch)
}

func TestApplyOutputs_PlainMapIsAValue(t *testing.T) {
	f := newFixture(t, nil, nil)
	table := map[string]any{"headers": []any{"a"}}

	require.NoError(t, f.mgr.ApplyOutputs(context.Background(), []int{1}, ir.Outputs(table)))

	assert.Equal(t, table, f.state.Value(1))
}
