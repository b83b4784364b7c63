package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oplog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Environment)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, uint64(128), cfg.Primary.MaxOperationsBeforeCommit)
	assert.Equal(t, 64*1024, cfg.Primary.MaxPayloadSize)
	assert.False(t, cfg.MultiLayer.Enabled)
	assert.Equal(t, uint64(1024), cfg.MultiLayer.EntryCountLimit)
	assert.Equal(t, ":9225", cfg.Debug.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
environment: prod
storage:
  backend: sqlite
  path: /var/lib/oplog/oplog.db
primary:
  max_operations_before_commit: 16
multilayer:
  enabled: true
  entry_count_limit: 100
  layers:
    - kind: indexed
      codec: lz4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/oplog/oplog.db", cfg.Storage.Path)
	assert.Equal(t, uint64(16), cfg.Primary.MaxOperationsBeforeCommit)
	assert.Equal(t, uint64(100), cfg.MultiLayer.EntryCountLimit)
	assert.Equal(t, []LayerConfig{{Kind: "indexed", Codec: "lz4"}}, cfg.MultiLayer.Layers)
}

func TestLoad_DefaultLayers(t *testing.T) {
	path := writeConfig(t, "multilayer:\n  enabled: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultLayers(), cfg.MultiLayer.Layers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPLOG_STORAGE_BACKEND", "pebble")
	t.Setenv("OPLOG_STORAGE_PATH", "/tmp/pebble")
	t.Setenv("OPLOG_PRIMARY_MAX_OPERATIONS_BEFORE_COMMIT", "7")

	path := writeConfig(t, "storage:\n  backend: sqlite\n  path: x.db\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/pebble", cfg.Storage.Path)
	assert.Equal(t, uint64(7), cfg.Primary.MaxOperationsBeforeCommit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_NamesField(t *testing.T) {
	tests := []struct {
		name   string
		config string
		field  string
	}{
		{"unknown backend", "storage:\n  backend: redis\n", "storage.backend"},
		{"path required", "storage:\n  backend: sqlite\n", "storage.path"},
		{"zero threshold", "primary:\n  max_operations_before_commit: 0\n", "primary.max_operations_before_commit"},
		{"bad codec", "multilayer:\n  enabled: true\n  layers:\n    - kind: blob\n      codec: gzip\n", "multilayer.layers.0.codec"},
		{"bad fsync", "storage:\n  fsync: sometimes\n", "storage.fsync"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestConfig_YAML(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.MultiLayer.Layers = DefaultLayers()

	data, err := cfg.YAML()
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, *cfg, back)
	assert.Contains(t, string(data), "max_operations_before_commit: 128")
}
