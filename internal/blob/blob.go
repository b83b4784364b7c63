// Package blob stores opaque byte objects addressed by namespace and path.
//
// Oplogs use it for two things: payloads too large to inline in an entry,
// and the compressed chunks of a blob-backed archive layer. Paths use '/' as
// the separator regardless of backend.
package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/oplog/internal/model"
)

// Namespace partitions blobs by purpose and component.
type Namespace struct {
	Kind      string
	Component model.ComponentID
	Level     int
}

// PayloadNamespace holds uploaded oplog payloads of a component.
func PayloadNamespace(component model.ComponentID) Namespace {
	return Namespace{Kind: "oplog-payload", Component: component}
}

// CompressedOplogNamespace holds compressed oplog chunks of a component at
// an archive level.
func CompressedOplogNamespace(component model.ComponentID, level int) Namespace {
	return Namespace{Kind: "compressed-oplog", Component: component, Level: level}
}

// Dir returns the namespace as a relative directory.
func (n Namespace) Dir() string {
	if n.Kind == "compressed-oplog" {
		return fmt.Sprintf("%s/%s/%d", n.Kind, n.Component, n.Level)
	}
	return fmt.Sprintf("%s/%s", n.Kind, n.Component)
}

// Store is a blob store.
type Store interface {
	// Get returns the blob at path; ok is false if it does not exist.
	Get(ctx context.Context, ns Namespace, path string) (data []byte, ok bool, err error)
	Put(ctx context.Context, ns Namespace, path string, data []byte) error
	Exists(ctx context.Context, ns Namespace, path string) (bool, error)
	Delete(ctx context.Context, ns Namespace, path string) error
	DeleteMany(ctx context.Context, ns Namespace, paths []string) error
	// DeleteDir removes every blob under dir.
	DeleteDir(ctx context.Context, ns Namespace, dir string) error
	// List returns the names of the blobs directly under dir, sorted.
	List(ctx context.Context, ns Namespace, dir string) ([]string, error)
	// ListDirs returns the names of the top-level directories of ns, sorted.
	ListDirs(ctx context.Context, ns Namespace) ([]string, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func memoryKey(ns Namespace, path string) string {
	return ns.Dir() + "/" + strings.TrimPrefix(path, "/")
}

func (m *Memory) Get(ctx context.Context, ns Namespace, path string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[memoryKey(ns, path)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *Memory) Put(ctx context.Context, ns Namespace, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[memoryKey(ns, path)] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Exists(ctx context.Context, ns Namespace, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[memoryKey(ns, path)]
	return ok, nil
}

func (m *Memory) Delete(ctx context.Context, ns Namespace, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, memoryKey(ns, path))
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, ns Namespace, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.blobs, memoryKey(ns, p))
	}
	return nil
}

func (m *Memory) DeleteDir(ctx context.Context, ns Namespace, dir string) error {
	prefix := memoryKey(ns, dir) + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			delete(m.blobs, k)
		}
	}
	return nil
}

func (m *Memory) List(ctx context.Context, ns Namespace, dir string) ([]string, error) {
	prefix := memoryKey(ns, dir) + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0)
	for k := range m.blobs {
		if rest, ok := strings.CutPrefix(k, prefix); ok && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) ListDirs(ctx context.Context, ns Namespace) ([]string, error) {
	prefix := ns.Dir() + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range m.blobs {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			if dir, _, nested := strings.Cut(rest, "/"); nested {
				seen[dir] = struct{}{}
			}
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}
