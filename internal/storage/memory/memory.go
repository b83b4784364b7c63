// Package memory is an in-process IndexedStorage backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/oplog/internal/storage"
)

// Storage keeps every stream in a map guarded by one RWMutex.
type Storage struct {
	mu      sync.RWMutex
	streams map[string]map[string][]storage.Entry
}

var _ storage.IndexedStorage = (*Storage)(nil)

// New returns an empty in-memory store.
func New() *Storage {
	return &Storage{streams: make(map[string]map[string][]storage.Entry)}
}

func (s *Storage) NumberOfReplicas() uint8 { return 1 }

func (s *Storage) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (uint8, error) {
	return 1, nil
}

func (s *Storage) Exists(ctx context.Context, ns storage.Namespace, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[ns.String()][key]) > 0, nil
}

func (s *Storage) Scan(ctx context.Context, ns storage.Namespace, pattern string, cursor, count uint64) (uint64, []string, error) {
	s.mu.RLock()
	keys := make([]string, 0)
	for key, entries := range s.streams[ns.String()] {
		if len(entries) > 0 && storage.MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	next, page := storage.Page(keys, cursor, count)
	return next, page, nil
}

func (s *Storage) Append(ctx context.Context, ns storage.Namespace, key string, id uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams, ok := s.streams[ns.String()]
	if !ok {
		streams = make(map[string][]storage.Entry)
		s.streams[ns.String()] = streams
	}
	entries := streams[key]
	if n := len(entries); n > 0 && entries[n-1].ID >= id {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, storage.ErrAppendConflict)
	}
	streams[key] = append(entries, storage.Entry{ID: id, Value: append([]byte(nil), value...)})
	return nil
}

func (s *Storage) Length(ctx context.Context, ns storage.Namespace, key string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.streams[ns.String()][key])), nil
}

func (s *Storage) Delete(ctx context.Context, ns storage.Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams[ns.String()], key)
	return nil
}

func (s *Storage) Read(ctx context.Context, ns storage.Namespace, key string, startID, endID uint64) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.streams[ns.String()][key]
	from := sort.Search(len(entries), func(i int) bool { return entries[i].ID >= startID })
	result := make([]storage.Entry, 0)
	for _, e := range entries[from:] {
		if e.ID > endID {
			break
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Storage) First(ctx context.Context, ns storage.Namespace, key string) (storage.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.streams[ns.String()][key]
	if len(entries) == 0 {
		return storage.Entry{}, false, nil
	}
	return entries[0], true, nil
}

func (s *Storage) Last(ctx context.Context, ns storage.Namespace, key string) (storage.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.streams[ns.String()][key]
	if len(entries) == 0 {
		return storage.Entry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (s *Storage) Closest(ctx context.Context, ns storage.Namespace, key string, id uint64) (storage.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.streams[ns.String()][key]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].ID >= id })
	if i == len(entries) {
		return storage.Entry{}, false, nil
	}
	return entries[i], true, nil
}

func (s *Storage) DropPrefix(ctx context.Context, ns storage.Namespace, key string, lastDroppedID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams := s.streams[ns.String()]
	entries := streams[key]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].ID > lastDroppedID })
	if i == len(entries) {
		delete(streams, key)
		return nil
	}
	streams[key] = append([]storage.Entry(nil), entries[i:]...)
	return nil
}

func (s *Storage) Close() error { return nil }
