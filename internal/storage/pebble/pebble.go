// Package pebblestore is an IndexedStorage backend on a Pebble LSM.
//
// Key layout:
//
//	<namespace> 0x00 <key> 0x00 <id:8 bytes big-endian>
//
// Big-endian ids keep each stream sorted by id under Pebble's bytewise
// comparator, so ranged reads, first/last and prefix drops are single
// iterator seeks or range deletions.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/oplog/internal/storage"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	// FsyncModeAlways syncs the WAL on every committed batch.
	FsyncModeAlways FsyncMode = iota
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

// Options configures the Pebble backend.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// Storage is a Pebble-backed IndexedStorage.
type Storage struct {
	db        *pebble.DB
	writeSync bool

	// appendMu serializes the read-check-write of Append per process.
	appendMu sync.Mutex
}

var _ storage.IndexedStorage = (*Storage)(nil)

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*Storage, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	switch opts.Fsync {
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeAlways, FsyncModeNever:
	}

	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", opts.DataDir, err)
	}

	return &Storage{
		db:        db,
		writeSync: opts.Fsync != FsyncModeNever,
	}, nil
}

// Close closes the Pebble database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) NumberOfReplicas() uint8 { return 1 }

func (s *Storage) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (uint8, error) {
	return 1, nil
}

func (s *Storage) Exists(ctx context.Context, ns storage.Namespace, key string) (bool, error) {
	_, ok, err := s.First(ctx, ns, key)
	return ok, err
}

func (s *Storage) Scan(ctx context.Context, ns storage.Namespace, pattern string, cursor, count uint64) (uint64, []string, error) {
	nsPrefix := namespacePrefix(ns)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: nsPrefix,
		UpperBound: prefixUpperBound(nsPrefix),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("scan %s: %w", ns, err)
	}
	defer iter.Close()

	keys := make([]string, 0)
	for valid := iter.First(); valid; {
		key, _, ok := splitKey(iter.Key(), len(nsPrefix))
		if !ok {
			valid = iter.Next()
			continue
		}
		if storage.MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
		// Skip the rest of this stream.
		valid = iter.SeekGE(prefixUpperBound(streamPrefix(ns, key)))
	}
	if err := iter.Error(); err != nil {
		return 0, nil, fmt.Errorf("scan %s: %w", ns, err)
	}

	sort.Strings(keys)
	next, page := storage.Page(keys, cursor, count)
	return next, page, nil
}

func (s *Storage) Append(ctx context.Context, ns storage.Namespace, key string, id uint64, value []byte) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	last, ok, err := s.Last(ctx, ns, key)
	if err != nil {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, err)
	}
	if ok && last.ID >= id {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, storage.ErrAppendConflict)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(ns, key, id), value, nil); err != nil {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, err)
	}
	if err := b.Commit(s.syncMode()); err != nil {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, err)
	}
	return nil
}

func (s *Storage) Length(ctx context.Context, ns storage.Namespace, key string) (uint64, error) {
	prefix := streamPrefix(ns, key)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, fmt.Errorf("length %s/%s: %w", ns, key, err)
	}
	defer iter.Close()

	var n uint64
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("length %s/%s: %w", ns, key, err)
	}
	return n, nil
}

func (s *Storage) Delete(ctx context.Context, ns storage.Namespace, key string) error {
	prefix := streamPrefix(ns, key)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, prefixUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	if err := b.Commit(s.syncMode()); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Storage) Read(ctx context.Context, ns storage.Namespace, key string, startID, endID uint64) ([]storage.Entry, error) {
	result := make([]storage.Entry, 0)
	if endID < startID {
		return result, nil
	}

	upper := prefixUpperBound(streamPrefix(ns, key))
	if endID < ^uint64(0) {
		upper = entryKey(ns, key, endID+1)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKey(ns, key, startID),
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		result = append(result, storage.Entry{
			ID:    idFromKey(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	return result, nil
}

func (s *Storage) First(ctx context.Context, ns storage.Namespace, key string) (storage.Entry, bool, error) {
	return s.seek(ns, key, 0, false)
}

func (s *Storage) Last(ctx context.Context, ns storage.Namespace, key string) (storage.Entry, bool, error) {
	return s.seek(ns, key, 0, true)
}

func (s *Storage) Closest(ctx context.Context, ns storage.Namespace, key string, id uint64) (storage.Entry, bool, error) {
	return s.seek(ns, key, id, false)
}

func (s *Storage) DropPrefix(ctx context.Context, ns storage.Namespace, key string, lastDroppedID uint64) error {
	end := prefixUpperBound(streamPrefix(ns, key))
	if lastDroppedID < ^uint64(0) {
		end = entryKey(ns, key, lastDroppedID+1)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(entryKey(ns, key, 0), end, nil); err != nil {
		return fmt.Errorf("drop prefix %s/%s: %w", ns, key, err)
	}
	if err := b.Commit(s.syncMode()); err != nil {
		return fmt.Errorf("drop prefix %s/%s: %w", ns, key, err)
	}
	return nil
}

// Compact asks Pebble to compact the whole keyspace of a namespace,
// reclaiming space left by dropped prefixes.
func (s *Storage) Compact(ns storage.Namespace) error {
	prefix := namespacePrefix(ns)
	return s.db.Compact(prefix, prefixUpperBound(prefix), true)
}

func (s *Storage) seek(ns storage.Namespace, key string, from uint64, last bool) (storage.Entry, bool, error) {
	prefix := streamPrefix(ns, key)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKey(ns, key, from),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("seek %s/%s: %w", ns, key, err)
	}
	defer iter.Close()

	var valid bool
	if last {
		valid = iter.Last()
	} else {
		valid = iter.First()
	}
	if !valid {
		return storage.Entry{}, false, iter.Error()
	}
	return storage.Entry{
		ID:    idFromKey(iter.Key()),
		Value: append([]byte(nil), iter.Value()...),
	}, true, nil
}

func (s *Storage) syncMode() *pebble.WriteOptions {
	if s.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func namespacePrefix(ns storage.Namespace) []byte {
	return append([]byte(ns.String()), 0)
}

func streamPrefix(ns storage.Namespace, key string) []byte {
	p := namespacePrefix(ns)
	p = append(p, key...)
	return append(p, 0)
}

func entryKey(ns storage.Namespace, key string, id uint64) []byte {
	return binary.BigEndian.AppendUint64(streamPrefix(ns, key), id)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix. The prefixes used here always end in 0x00, so incrementing
// the last byte is enough.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func idFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// splitKey extracts the stream key from a full entry key.
func splitKey(k []byte, nsLen int) (string, uint64, bool) {
	rest := k[nsLen:]
	if len(rest) < 9 || rest[len(rest)-9] != 0 {
		return "", 0, false
	}
	return string(rest[:len(rest)-9]), idFromKey(k), true
}
