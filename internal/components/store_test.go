package components

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetMissing(t *testing.T) {
	s := New(nil)

	st, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStore_InitialStateCopied(t *testing.T) {
	initial := map[int]map[string]any{10: {"value": "hi"}}
	s := New(initial)
	initial[10]["value"] = "changed"

	assert.Equal(t, "hi", s.Value(10))
}

func TestStore_UpdateMerges(t *testing.T) {
	s := New(map[int]map[string]any{1: {"value": 1, "label": "a"}})
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, 1, map[string]any{"label": "b"}, false))

	st, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 1, "label": "b"}, st)
}

func TestStore_UpdateCreates(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Update(context.Background(), 5, map[string]any{"value": "x"}, false))
	assert.Equal(t, "x", s.Value(5))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(map[int]map[string]any{1: {"value": 1}})
	st, _ := s.Get(context.Background(), 1)
	st["value"] = 2

	assert.Equal(t, 1, s.Value(1))
}

func TestStore_HistoryOrder(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, 1, map[string]any{"label": "x"}, false))
	require.NoError(t, s.Update(ctx, 2, map[string]any{"value": 3}, false))
	require.NoError(t, s.Update(ctx, 1, map[string]any{"visible": false}, true))

	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, Update{ID: 1, Patch: map[string]any{"label": "x"}}, h[0])
	assert.True(t, h[2].Visibility)

	assert.Len(t, s.HistoryFor(1), 2)

	s.ResetHistory()
	assert.Empty(t, s.History())
	assert.Equal(t, false, s.Snapshot()[1]["visible"])
}

func TestStore_SetSkipsHistory(t *testing.T) {
	s := New(nil)
	s.Set(3, map[string]any{"value": "seed"})

	assert.Equal(t, "seed", s.Value(3))
	assert.Empty(t, s.History())
}
