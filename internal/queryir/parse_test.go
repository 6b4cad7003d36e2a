package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Predicate
	}{
		{"empty", "", nil},
		{"blank", "   ", nil},
		{"single int", "fn_index=1", Equals{Field: "fn_index", Value: 1}},
		{"single string", "stage=error", Equals{Field: "stage", Value: "error"}},
		{"bool", "flag=false", Equals{Field: "flag", Value: false}},
		{"negative int", "queue=-2", Equals{Field: "queue", Value: -2}},
		{"spaces trimmed", " fn_index = 2 ", Equals{Field: "fn_index", Value: 2}},
		{"conjunction", "fn_index=1,stage=error", And{Predicates: []Predicate{
			Equals{Field: "fn_index", Value: 1},
			Equals{Field: "stage", Value: "error"},
		}}},
		{"quoted keeps commas", `message="a, b",fn_index=0`, And{Predicates: []Predicate{
			Equals{Field: "message", Value: "a, b"},
			Equals{Field: "fn_index", Value: 0},
		}}},
		{"quoted number stays string", `invocation_id="42"`, Equals{Field: "invocation_id", Value: "42"}},
		{"empty value", "message=", Equals{Field: "message", Value: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"missing equals", "fn_index", "want column=value"},
		{"missing field", "=1", "want column=value"},
		{"trailing comma", "fn_index=1,", "want column=value"},
		{"bad quote", `message="open`, "bad quoted value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
