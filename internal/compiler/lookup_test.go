package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
)

func TestLookupAPIName(t *testing.T) {
	decls := []ir.Declaration{
		{ID: 0, APIName: "predict"},
		{ID: 1},
		{ID: 2, APIName: "predict_batch"},
		{ID: 3, APIName: "Reset"},
	}

	tests := []struct {
		name        string
		query       string
		wantID      int
		wantFound   bool
		suggestions []string
	}{
		{name: "exact", query: "predict", wantID: 0, wantFound: true},
		{name: "case insensitive", query: "reset", wantID: 3, wantFound: true},
		{name: "partial", query: "batch", suggestions: []string{"predict_batch"}},
		{name: "closest first", query: "pred", suggestions: []string{"predict", "predict_batch"}},
		{name: "nothing close", query: "zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, suggestions, ok := LookupAPIName(decls, tt.query)
			require.Equal(t, tt.wantFound, ok)
			if ok {
				assert.Equal(t, tt.wantID, d.ID)
				return
			}
			assert.Equal(t, tt.suggestions, suggestions)
		})
	}
}
