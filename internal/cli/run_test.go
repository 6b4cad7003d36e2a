package cli

import (
	"context"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/store"
)

func TestRunRecordsScenario(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}),
		"--db", dbPath, filepath.Join(scenariosDir, "chain_success.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "✓ chain_success: 9 event(s), 2 submission(s), 2 API call(s) recorded\n", out)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	sess, err := st.ReadSession(context.Background(), "chain_success")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.DependencyCount)
	assert.NotEmpty(t, sess.DeclarationsHash)
}

func TestRunJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "json"}),
		"--db", dbPath, filepath.Join(scenariosDir, "failure_chain.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, RunResult{
		Session:  "failure_chain",
		Pass:     true,
		Events:   6,
		Submits:  1,
		APICalls: 2,
	}, resp.Data)
}

func TestRunRefusesRecordedSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	scenario := filepath.Join(scenariosDir, "update_envelope.yaml")

	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--db", dbPath, scenario)
	require.NoError(t, err)

	_, err = execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--db", dbPath, scenario)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "already recorded")
}

func TestRunMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), filepath.Join(scenariosDir, "chain_success.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestRunMissingScenario(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--db", dbPath, "/nonexistent.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}
