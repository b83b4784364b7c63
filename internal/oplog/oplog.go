package oplog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/oplog/internal/model"
)

// CommitLevel selects how hard Commit tries to make buffered entries
// durable.
type CommitLevel int

const (
	// CommitImmediate flushes synchronously before returning. Used at
	// operation boundaries that acknowledge success externally.
	CommitImmediate CommitLevel = iota + 1

	// CommitAlways flushes every buffered entry.
	CommitAlways

	// CommitDurableOnly flushes only oplogs that are durable. It is a no-op
	// for ephemeral oplogs.
	CommitDurableOnly
)

func (l CommitLevel) String() string {
	switch l {
	case CommitImmediate:
		return "immediate"
	case CommitAlways:
		return "always"
	case CommitDurableOnly:
		return "durable-only"
	}
	return fmt.Sprintf("CommitLevel(%d)", int(l))
}

// ParseCommitLevel parses the String form of a level.
func ParseCommitLevel(s string) (CommitLevel, error) {
	switch strings.ToLower(s) {
	case "immediate":
		return CommitImmediate, nil
	case "always":
		return CommitAlways, nil
	case "durable-only", "durable_only":
		return CommitDurableOnly, nil
	}
	return 0, fmt.Errorf("unknown commit level %q", s)
}

// Record is an entry at its oplog index.
type Record struct {
	Index model.OplogIndex
	Entry model.Entry
}

// sortRecords orders records by index and drops duplicates, keeping the
// first occurrence.
func sortRecords(records []Record) []Record {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	out := records[:0]
	for _, r := range records {
		if len(out) > 0 && out[len(out)-1].Index == r.Index {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Oplog is the live, append-only handle of one worker's oplog.
//
// Read panics with *Error when a committed index is missing. Every other
// failure is returned.
type Oplog interface {
	// Add buffers an entry and returns the index assigned to it.
	Add(ctx context.Context, entry model.Entry) (model.OplogIndex, error)

	// DropPrefix removes every committed entry up to and including last
	// and returns how many were removed.
	DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error)

	// Commit flushes buffered entries and returns the ones it wrote.
	Commit(ctx context.Context, level CommitLevel) ([]Record, error)

	// CurrentOplogIndex is the last index assigned, committed or not.
	CurrentOplogIndex(ctx context.Context) model.OplogIndex

	// LastAddedNonHintEntry is the last index of an entry that is not a
	// hint.
	LastAddedNonHintEntry(ctx context.Context) (model.OplogIndex, bool)

	// WaitForReplicas reports whether replicas copies acknowledged every
	// committed entry within timeout.
	WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) bool

	Read(ctx context.Context, idx model.OplogIndex) (model.Entry, error)

	// Length is the number of committed entries still stored.
	Length(ctx context.Context) (uint64, error)

	UploadPayload(ctx context.Context, data []byte) (model.OplogPayload, error)
	DownloadPayload(ctx context.Context, payload model.OplogPayload) ([]byte, error)

	// Close releases the handle. It is safe to call more than once.
	Close() error
}

// WorkerState is a read-only snapshot of the worker an oplog belongs to.
// Services use it for correlation and never modify it.
type WorkerState struct {
	Metadata  model.WorkerMetadata
	Status    model.WorkerStatusRecord
	Execution model.ExecutionStatus

	// Ephemeral selects the buffered, low-durability oplog.
	Ephemeral bool
}

// ScanCursor is the position of a paginated component scan. Layer 0 is the
// primary layer; layer i > 0 is archive i-1. The zero cursor both starts
// and ends a scan.
type ScanCursor struct {
	Cursor uint64 `json:"cursor"`
	Layer  int    `json:"layer"`
}

// IsDone reports whether the cursor ends a scan.
func (c ScanCursor) IsDone() bool {
	return c.Cursor == 0 && c.Layer == 0
}

// Service creates and opens oplogs and answers queries about them.
type Service interface {
	// Create allocates a new oplog starting with initial. Panics with
	// *Error if the worker already has one.
	Create(ctx context.Context, owned model.OwnedWorkerID, initial *model.Create, state WorkerState) (Oplog, error)

	// Open reattaches to an existing oplog whose last index is lastIndex.
	// Concurrent opens of one worker share the same underlying oplog.
	Open(ctx context.Context, owned model.OwnedWorkerID, lastIndex model.OplogIndex, state WorkerState) (Oplog, error)

	GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error)

	// Delete removes every stored entry of the worker. No oplog of the
	// worker may be open.
	Delete(ctx context.Context, owned model.OwnedWorkerID) error

	// Read returns up to n committed entries starting at idx in index
	// order.
	Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error)

	Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error)

	// ScanForComponent lists workers of a component that have an oplog.
	ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor ScanCursor, count uint64) (ScanCursor, []model.OwnedWorkerID, error)

	UploadPayload(ctx context.Context, owned model.OwnedWorkerID, data []byte) (model.OplogPayload, error)
	DownloadPayload(ctx context.Context, owned model.OwnedWorkerID, payload model.OplogPayload) ([]byte, error)
}

// ScanAll drains a component scan.
func ScanAll(ctx context.Context, svc Service, env model.EnvironmentID, component model.ComponentID, pageSize uint64) ([]model.OwnedWorkerID, error) {
	var (
		all    []model.OwnedWorkerID
		cursor ScanCursor
	)
	for {
		next, ids, err := svc.ScanForComponent(ctx, env, component, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, ids...)
		if next.IsDone() {
			return all, nil
		}
		cursor = next
	}
}

// ReadAll reads every committed entry of a worker in pages of pageSize.
func ReadAll(ctx context.Context, svc Service, owned model.OwnedWorkerID, pageSize uint64) ([]Record, error) {
	last, err := svc.GetLastIndex(ctx, owned)
	if err != nil {
		return nil, err
	}
	var all []Record
	for idx := model.InitialIndex; idx <= last; {
		page, err := svc.Read(ctx, owned, idx, pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			// Compacted prefix; skip to the next stored page.
			idx = idx.RangeEnd(pageSize).Next()
			continue
		}
		all = append(all, page...)
		idx = page[len(page)-1].Index.Next()
	}
	return all, nil
}
