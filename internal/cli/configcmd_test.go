package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/config"
)

func TestConfigShow_YAML(t *testing.T) {
	cfg := writeConfig(t, true)

	out, err := execute(t, "config", "show", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "environment: test-env")
	assert.Contains(t, out, "backend: sqlite")
	assert.Contains(t, out, "kind: indexed")
}

func TestConfigShow_JSON(t *testing.T) {
	out, err := execute(t, "config", "show", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   config.Config `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "memory", resp.Data.Storage.Backend)
	assert.Equal(t, uint64(128), resp.Data.Primary.MaxOperationsBeforeCommit)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate", "-c", writeConfig(t, false))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid")
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: redis\n"), 0o644))

	out, err := execute(t, "config", "validate", "-c", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConfig, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "storage.backend")
}

func TestConfigValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "validate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
