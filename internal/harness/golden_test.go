package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarios_Golden runs every scenario under testdata/scenarios and
// compares its trace to testdata/golden.
//
// Regenerate with:
//
//	go test ./internal/harness -run TestScenarios_Golden -update
func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			require.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestMarshalTrace_OmitsEmptyFields(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Type: EventDispatch, Seq: 1, Component: intp(4), Event: "change"},
		{Type: EventError, Seq: 2, Message: "boom"},
	}

	got, err := MarshalTrace("tiny", result)
	require.NoError(t, err)
	require.Equal(t,
		`{"scenario_name":"tiny","trace":[{"component":4,"event":"change","seq":1,"type":"dispatch"},{"message":"boom","seq":2,"type":"error"}]}`,
		string(got))
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "update_envelope.yaml"))
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, second)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func intp(v int) *int { return &v }
