package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FS stores blobs as files under a root directory.
type FS struct {
	root string
}

var _ Store = (*FS)(nil)

// NewFS returns a store rooted at root, creating it if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FS{root: root}, nil
}

func (f *FS) path(ns Namespace, p string) string {
	return filepath.Join(f.root, filepath.FromSlash(ns.Dir()), filepath.FromSlash(p))
}

func (f *FS) Get(ctx context.Context, ns Namespace, p string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(ns, p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get blob %s/%s: %w", ns.Dir(), p, err)
	}
	return data, true, nil
}

// Put writes to a temporary file and renames it into place so readers never
// observe a partial blob.
func (f *FS) Put(ctx context.Context, ns Namespace, p string, data []byte) error {
	target := f.path(ns, p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("put blob %s/%s: %w", ns.Dir(), p, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return fmt.Errorf("put blob %s/%s: %w", ns.Dir(), p, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("put blob %s/%s: %w", ns.Dir(), p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put blob %s/%s: %w", ns.Dir(), p, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put blob %s/%s: %w", ns.Dir(), p, err)
	}
	return nil
}

func (f *FS) Exists(ctx context.Context, ns Namespace, p string) (bool, error) {
	_, err := os.Stat(f.path(ns, p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s/%s: %w", ns.Dir(), p, err)
	}
	return true, nil
}

func (f *FS) Delete(ctx context.Context, ns Namespace, p string) error {
	err := os.Remove(f.path(ns, p))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s/%s: %w", ns.Dir(), p, err)
	}
	return nil
}

func (f *FS) DeleteMany(ctx context.Context, ns Namespace, paths []string) error {
	for _, p := range paths {
		if err := f.Delete(ctx, ns, p); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) DeleteDir(ctx context.Context, ns Namespace, dir string) error {
	if err := os.RemoveAll(f.path(ns, dir)); err != nil {
		return fmt.Errorf("delete blob dir %s/%s: %w", ns.Dir(), dir, err)
	}
	return nil
}

func (f *FS) List(ctx context.Context, ns Namespace, dir string) ([]string, error) {
	return f.readDir(f.path(ns, dir), false)
}

func (f *FS) ListDirs(ctx context.Context, ns Namespace) ([]string, error) {
	return f.readDir(f.path(ns, ""), true)
}

func (f *FS) readDir(dir string, dirs bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list blobs in %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() == dirs && !(len(e.Name()) > 0 && e.Name()[0] == '.') {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
