package ir

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOutputStates(t *testing.T) {
	assert.False(t, Unset.IsSet())
	assert.False(t, Unset.IsNull())

	null := Some(nil)
	assert.True(t, null.IsSet())
	assert.True(t, null.IsNull())

	v := Some("x")
	assert.True(t, v.IsSet())
	assert.False(t, v.IsNull())
	assert.Equal(t, "x", v.Value())
}

func TestOutputZeroValueIsUnset(t *testing.T) {
	var o Output
	assert.Equal(t, Unset, o)
	assert.Equal(t, "<unset>", o.String())
}

func TestOutputUnmarshalJSON(t *testing.T) {
	var outs []Output
	require.NoError(t, json.Unmarshal([]byte(`["HI", null, 3]`), &outs))

	require.Len(t, outs, 3)
	assert.Equal(t, Some("HI"), outs[0])
	assert.True(t, outs[1].IsNull())
	assert.Equal(t, float64(3), outs[2].Value())
}

func TestOutputUnmarshalYAML(t *testing.T) {
	var outs []Output
	require.NoError(t, yaml.Unmarshal([]byte("[HI, null]"), &outs))

	require.Len(t, outs, 2)
	assert.Equal(t, "HI", outs[0].Value())
	assert.True(t, outs[1].IsNull())
}

func TestValues(t *testing.T) {
	assert.Equal(t, []any{"a", nil, nil}, Values([]Output{Some("a"), Unset, Some(nil)}))
}

func TestIsUpdate(t *testing.T) {
	assert.True(t, IsUpdate(Update(map[string]any{"visible": false})))
	assert.True(t, IsUpdate(map[string]any{"__type__": "update"}))
	assert.False(t, IsUpdate(map[string]any{"__type__": "other"}))
	assert.False(t, IsUpdate(map[string]any{"value": 1}))
	assert.False(t, IsUpdate("update"))
}

func TestUpdateDoesNotMutateInput(t *testing.T) {
	props := map[string]any{"label": "x"}
	env := Update(props)

	assert.Equal(t, "update", env[TypeKey])
	assert.NotContains(t, props, TypeKey)
}
