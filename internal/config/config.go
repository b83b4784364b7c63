// Package config loads oplogctl configuration.
//
// Values come from a YAML file, overridden by OPLOG_-prefixed environment
// variables (OPLOG_STORAGE_BACKEND for storage.backend), and are validated
// against an embedded CUE schema before use.
package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPLOG"

type Config struct {
	Environment string           `mapstructure:"environment" yaml:"environment" json:"environment"`
	Storage     StorageConfig    `mapstructure:"storage" yaml:"storage" json:"storage"`
	Blob        BlobConfig       `mapstructure:"blob" yaml:"blob" json:"blob"`
	Primary     PrimaryConfig    `mapstructure:"primary" yaml:"primary" json:"primary"`
	MultiLayer  MultiLayerConfig `mapstructure:"multilayer" yaml:"multilayer" json:"multilayer"`
	Debug       DebugConfig      `mapstructure:"debug" yaml:"debug" json:"debug"`
}

// StorageConfig selects the indexed storage backend.
type StorageConfig struct {
	// Backend is one of memory, sqlite or pebble.
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`

	// Path is the SQLite file or Pebble directory.
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// Fsync is the Pebble WAL sync mode: always, interval or never.
	Fsync string `mapstructure:"fsync" yaml:"fsync" json:"fsync"`
}

// BlobConfig locates the blob store. An empty root keeps blobs in memory.
type BlobConfig struct {
	Root string `mapstructure:"root" yaml:"root" json:"root"`
}

type PrimaryConfig struct {
	MaxOperationsBeforeCommit uint64 `mapstructure:"max_operations_before_commit" yaml:"max_operations_before_commit" json:"max_operations_before_commit"`
	MaxPayloadSize            int    `mapstructure:"max_payload_size" yaml:"max_payload_size" json:"max_payload_size"`
}

type MultiLayerConfig struct {
	Enabled                            bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	EntryCountLimit                    uint64        `mapstructure:"entry_count_limit" yaml:"entry_count_limit" json:"entry_count_limit"`
	MaxOperationsBeforeCommitEphemeral uint64        `mapstructure:"max_operations_before_commit_ephemeral" yaml:"max_operations_before_commit_ephemeral" json:"max_operations_before_commit_ephemeral"`
	Layers                             []LayerConfig `mapstructure:"layers" yaml:"layers" json:"layers"`
}

// LayerConfig describes one archive layer below the primary, shallowest
// first.
type LayerConfig struct {
	// Kind is indexed (compressed chunks in the indexed storage) or blob.
	Kind  string `mapstructure:"kind" yaml:"kind" json:"kind"`
	Codec string `mapstructure:"codec" yaml:"codec" json:"codec"`
}

type DebugConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

// DefaultLayers is used when the multilayer service is enabled without
// explicit layers.
func DefaultLayers() []LayerConfig {
	return []LayerConfig{
		{Kind: "indexed", Codec: "snappy"},
		{Kind: "blob", Codec: "zstd"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "default")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.fsync", "always")
	v.SetDefault("blob.root", "")
	v.SetDefault("primary.max_operations_before_commit", 128)
	v.SetDefault("primary.max_payload_size", 64*1024)
	v.SetDefault("multilayer.enabled", false)
	v.SetDefault("multilayer.entry_count_limit", 1024)
	v.SetDefault("multilayer.max_operations_before_commit_ephemeral", 512)
	v.SetDefault("debug.addr", ":9225")
}

// Load reads path (optional) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.MultiLayer.Enabled && len(cfg.MultiLayer.Layers) == 0 {
		cfg.MultiLayer.Layers = DefaultLayers()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidationError names the configuration field that failed the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid config: %s", e.Message)
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	encoded := *c
	if encoded.MultiLayer.Layers == nil {
		encoded.MultiLayer.Layers = []LayerConfig{}
	}
	value := def.Unify(ctx.Encode(encoded))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError reduces a CUE error to its first failure and the path of
// the field it concerns.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	path := first.Path()
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}

// YAML renders the configuration as it would be written to a file.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
