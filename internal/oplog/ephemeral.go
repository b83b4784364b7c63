package oplog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/oplog/internal/model"
)

// EphemeralOplog buffers entries in memory and writes them straight to an
// archive layer. It never commits under CommitDurableOnly and reports no
// replicas. Payloads go through the primary oplog so they outlive the
// archived entries that reference them.
type EphemeralOplog struct {
	owned   model.OwnedWorkerID
	primary Oplog
	target  Archive
	maxOps  uint64
	onClose func()
	once    sync.Once

	mu               sync.Mutex
	buffer           []model.Entry
	lastOplogIdx     model.OplogIndex
	lastCommittedIdx model.OplogIndex
	lastNonHint      model.OplogIndex
}

// NewEphemeralOplog creates an ephemeral oplog whose last stored index is
// lastIndex. Closing it closes primary and target and then runs onClose.
func NewEphemeralOplog(owned model.OwnedWorkerID, lastIndex model.OplogIndex, maxOps uint64, primary Oplog, target Archive, onClose func()) *EphemeralOplog {
	return &EphemeralOplog{
		owned:            owned,
		primary:          primary,
		target:           target,
		maxOps:           maxOps,
		onClose:          onClose,
		lastOplogIdx:     lastIndex,
		lastCommittedIdx: lastIndex,
	}
}

// Add buffers entry. Once the buffer holds maxOps entries it is committed
// before Add returns, so at most maxOps entries are ever uncommitted.
func (o *EphemeralOplog) Add(ctx context.Context, entry model.Entry) (model.OplogIndex, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buffer = append(o.buffer, entry)
	o.lastOplogIdx = o.lastOplogIdx.Next()
	idx := o.lastOplogIdx
	if !model.IsHint(entry) {
		o.lastNonHint = idx
	}
	if uint64(len(o.buffer)) >= o.maxOps {
		if _, err := o.commitLocked(ctx); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Commit appends the buffer to the target layer. CommitDurableOnly is a no-op:
// ephemeral entries are only written by Add reaching the threshold or by an
// explicit Immediate or Always commit.
func (o *EphemeralOplog) Commit(ctx context.Context, level CommitLevel) ([]Record, error) {
	if level == CommitDurableOnly {
		return nil, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.commitLocked(ctx)
}

func (o *EphemeralOplog) commitLocked(ctx context.Context) ([]Record, error) {
	if len(o.buffer) == 0 {
		return nil, nil
	}
	records := make([]Record, len(o.buffer))
	idx := o.lastCommittedIdx
	for i, e := range o.buffer {
		idx = idx.Next()
		records[i] = Record{Index: idx, Entry: e}
	}
	if err := o.target.Append(ctx, records); err != nil {
		return nil, err
	}
	o.buffer = nil
	o.lastCommittedIdx = idx
	slog.Debug("ephemeral oplog committed", "worker", o.owned.String(), "entries", len(records), "last_index", uint64(idx))
	return records, nil
}

// CurrentOplogIndex includes buffered entries.
func (o *EphemeralOplog) CurrentOplogIndex(ctx context.Context) model.OplogIndex {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOplogIdx
}

func (o *EphemeralOplog) LastAddedNonHintEntry(ctx context.Context) (model.OplogIndex, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastNonHint, !o.lastNonHint.IsNone()
}

// WaitForReplicas always fails: ephemeral entries are not replicated.
func (o *EphemeralOplog) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) bool {
	return false
}

// Read returns a committed entry. Buffered entries are not readable; reading
// one panics like any other missing index.
func (o *EphemeralOplog) Read(ctx context.Context, idx model.OplogIndex) (model.Entry, error) {
	records, err := o.target.Read(ctx, idx, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0].Index != idx {
		panic(NewEntryMissingError(o.owned, idx))
	}
	return records[0].Entry, nil
}

// Length counts committed entries in the target layer only.
func (o *EphemeralOplog) Length(ctx context.Context) (uint64, error) {
	return o.target.Length(ctx)
}

// DropPrefix drops from the target layer, which removes whole chunks.
func (o *EphemeralOplog) DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error) {
	return o.target.DropPrefix(ctx, last)
}

// UploadPayload stores large payloads through the primary service.
func (o *EphemeralOplog) UploadPayload(ctx context.Context, data []byte) (model.OplogPayload, error) {
	return o.primary.UploadPayload(ctx, data)
}

func (o *EphemeralOplog) DownloadPayload(ctx context.Context, payload model.OplogPayload) ([]byte, error) {
	return o.primary.DownloadPayload(ctx, payload)
}

// Close releases the primary and target. Buffered entries are discarded.
func (o *EphemeralOplog) Close() error {
	var err error
	o.once.Do(func() {
		defer func() {
			if o.onClose != nil {
				o.onClose()
			}
		}()
		if n := o.bufferedLen(); n > 0 {
			slog.Debug("closing ephemeral oplog with uncommitted entries", "worker", o.owned.String(), "entries", n)
		}
		if cerr := o.target.Close(); cerr != nil {
			err = cerr
		}
		if cerr := o.primary.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (o *EphemeralOplog) bufferedLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buffer)
}

var _ Oplog = (*EphemeralOplog)(nil)
