package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/storage"
	"github.com/roach88/oplog/internal/storage/memory"
	pebblestore "github.com/roach88/oplog/internal/storage/pebble"
	"github.com/roach88/oplog/internal/storage/sqlite"
)

// Stack is the set of services built from a Config.
type Stack struct {
	Storage storage.IndexedStorage
	Blobs   blob.Store
	Primary *oplog.PrimaryService

	// Service is the multilayer service when enabled, otherwise Primary.
	Service oplog.Service
}

// Close releases the storage backend.
func (s *Stack) Close() error {
	return s.Storage.Close()
}

// Open builds the storage, blob store and oplog services described by c.
func Open(c *Config, opts ...oplog.Option) (*Stack, error) {
	st, err := openStorage(c.Storage)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(c.Blob)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	primary := oplog.NewPrimaryService(st, blobs, oplog.PrimaryConfig{
		MaxOperationsBeforeCommit: c.Primary.MaxOperationsBeforeCommit,
		MaxPayloadSize:            c.Primary.MaxPayloadSize,
	}, opts...)
	stack := &Stack{Storage: st, Blobs: blobs, Primary: primary, Service: primary}

	if c.MultiLayer.Enabled {
		layers, err := archiveLayers(c.MultiLayer.Layers, st, blobs)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		stack.Service = oplog.NewMultiLayerService(primary, layers, oplog.MultiLayerConfig{
			EntryCountLimit:                    c.MultiLayer.EntryCountLimit,
			MaxOperationsBeforeCommitEphemeral: c.MultiLayer.MaxOperationsBeforeCommitEphemeral,
		}, opts...)
	}

	slog.Debug("oplog stack opened",
		"backend", c.Storage.Backend,
		"multilayer", c.MultiLayer.Enabled,
		"layers", len(c.MultiLayer.Layers))
	return stack, nil
}

func openStorage(c StorageConfig) (storage.IndexedStorage, error) {
	switch c.Backend {
	case "memory", "":
		return memory.New(), nil
	case "sqlite":
		st, err := sqlite.Open(c.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return st, nil
	case "pebble":
		fsync, err := parseFsync(c.Fsync)
		if err != nil {
			return nil, err
		}
		st, err := pebblestore.Open(pebblestore.Options{DataDir: c.Path, Fsync: fsync})
		if err != nil {
			return nil, fmt.Errorf("open pebble storage: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
}

func parseFsync(mode string) (pebblestore.FsyncMode, error) {
	switch mode {
	case "always", "":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	}
	return 0, fmt.Errorf("unknown fsync mode %q", mode)
}

func openBlobs(c BlobConfig) (blob.Store, error) {
	if c.Root == "" {
		return blob.NewMemory(), nil
	}
	fs, err := blob.NewFS(c.Root)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return fs, nil
}

func archiveLayers(layers []LayerConfig, st storage.IndexedStorage, blobs blob.Store) ([]oplog.ArchiveService, error) {
	if len(layers) == 0 {
		return nil, errors.New("multilayer service needs at least one archive layer")
	}
	out := make([]oplog.ArchiveService, len(layers))
	for level, l := range layers {
		codec, err := compress.ParseCodec(l.Codec)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", level, err)
		}
		switch l.Kind {
		case "indexed":
			out[level] = oplog.NewIndexedArchiveService(st, level, codec)
		case "blob":
			out[level] = oplog.NewBlobArchiveService(blobs, level, codec)
		default:
			return nil, fmt.Errorf("layer %d: unknown kind %q", level, l.Kind)
		}
	}
	return out, nil
}
