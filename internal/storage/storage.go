package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAppendConflict is returned when an append would overwrite or precede an
// existing id.
var ErrAppendConflict = errors.New("append id is not greater than the last id of the stream")

// Namespace is the logical stream family of a key. Level distinguishes the
// tiers of a compressed archive; it is nil for uncompressed namespaces.
type Namespace struct {
	Name  string
	Level *int
}

// OplogNamespace holds primary oplog entries.
func OplogNamespace() Namespace {
	return Namespace{Name: "oplog"}
}

// CompressedOplogNamespace holds compressed chunks of the archive tier at
// level.
func CompressedOplogNamespace(level int) Namespace {
	return Namespace{Name: "compressed-oplog", Level: &level}
}

// String returns the stream name stored by backends.
func (n Namespace) String() string {
	if n.Level == nil {
		return n.Name
	}
	return fmt.Sprintf("%s:%d", n.Name, *n.Level)
}

// Entry is one (id, value) pair of a stream.
type Entry struct {
	ID    uint64
	Value []byte
}

// IndexedStorage is an ordered stream store.
type IndexedStorage interface {
	// NumberOfReplicas reports the replication fan-out of the backend.
	NumberOfReplicas() uint8

	// WaitForReplicas blocks until replicas copies acknowledge prior writes
	// and returns the number that did.
	WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (uint8, error)

	Exists(ctx context.Context, ns Namespace, key string) (bool, error)

	// Scan returns up to count keys matching pattern starting at cursor,
	// and the cursor to continue from. A next cursor of 0 ends the scan.
	Scan(ctx context.Context, ns Namespace, pattern string, cursor uint64, count uint64) (uint64, []string, error)

	// Append inserts value at id. Fails with ErrAppendConflict if id is not
	// greater than every id already in the stream.
	Append(ctx context.Context, ns Namespace, key string, id uint64, value []byte) error

	Length(ctx context.Context, ns Namespace, key string) (uint64, error)

	Delete(ctx context.Context, ns Namespace, key string) error

	// Read returns entries with startID <= id <= endID in ascending order.
	Read(ctx context.Context, ns Namespace, key string, startID, endID uint64) ([]Entry, error)

	First(ctx context.Context, ns Namespace, key string) (Entry, bool, error)
	Last(ctx context.Context, ns Namespace, key string) (Entry, bool, error)

	// Closest returns the first entry with an id at or after id.
	Closest(ctx context.Context, ns Namespace, key string, id uint64) (Entry, bool, error)

	// DropPrefix removes every entry with id <= lastDroppedID.
	DropPrefix(ctx context.Context, ns Namespace, key string, lastDroppedID uint64) error

	Close() error
}

// MatchPattern reports whether key matches a scan pattern.
func MatchPattern(pattern, key string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

// Page applies cursor/count pagination to a sorted key list.
func Page(keys []string, cursor, count uint64) (uint64, []string) {
	if cursor >= uint64(len(keys)) {
		return 0, nil
	}
	if count == 0 {
		count = 1
	}
	end := cursor + count
	if end >= uint64(len(keys)) {
		return 0, keys[cursor:]
	}
	return end, keys[cursor:end]
}
