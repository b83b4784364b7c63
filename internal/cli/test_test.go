package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ multilayer_archive")
	assert.Contains(t, out, "✓ remote_write_violation")
	assert.Contains(t, out, "Results: 5 passed, 0 failed, 5 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--filter", "ephemeral*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "ephemeral_buffering", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	goldenDir := t.TempDir()

	out, err := execute(t, "test", harnessScenarios, "--golden-dir", goldenDir, "--filter", "transaction*", "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ transaction_committed (golden updated)")

	want, err := os.ReadFile("../harness/testdata/golden/transaction_committed.golden")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(goldenDir, "transaction_committed.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "transaction_committed.golden"), []byte("scenario: stale\n"), 0o644))
	out, err = execute(t, "test", harnessScenarios, "--golden-dir", goldenDir, "--filter", "transaction*")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_length
description: expects more entries than were committed
steps:
  - add: NoOp
  - commit: always
  - expect_length: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_length.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_length")
	assert.Contains(t, out, "expected length 5, got 2")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
