package oplog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/storage/memory"
	"github.com/roach88/oplog/internal/testutil"
)

type fixture struct {
	storage *memory.Storage
	blobs   *blob.Memory
	primary *PrimaryService
	entries *testutil.Entries
}

func newFixture(t *testing.T, maxOps uint64) *fixture {
	t.Helper()
	st := memory.New()
	blobs := blob.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return &fixture{
		storage: st,
		blobs:   blobs,
		primary: NewPrimaryService(st, blobs, PrimaryConfig{MaxOperationsBeforeCommit: maxOps, MaxPayloadSize: 16}),
		entries: testutil.NewEntries(),
	}
}

// multiLayer builds a service with an indexed archive layer and a blob
// archive layer below the primary.
func (f *fixture) multiLayer(limit, maxOpsEphemeral uint64) *MultiLayerService {
	return NewMultiLayerService(f.primary, []ArchiveService{
		NewIndexedArchiveService(f.storage, 0, compress.Snappy),
		NewBlobArchiveService(f.blobs, 1, compress.Zstd),
	}, MultiLayerConfig{EntryCountLimit: limit, MaxOperationsBeforeCommitEphemeral: maxOpsEphemeral})
}

func mustOpen(t *testing.T, svc Service, owned model.OwnedWorkerID, last model.OplogIndex, state WorkerState) Oplog {
	t.Helper()
	o, err := svc.Open(context.Background(), owned, last, state)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func mustCreate(t *testing.T, svc Service, f *fixture, owned model.OwnedWorkerID, state WorkerState) Oplog {
	t.Helper()
	o, err := svc.Create(context.Background(), owned, f.entries.Create(owned), state)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func indices(records []Record) []model.OplogIndex {
	out := make([]model.OplogIndex, len(records))
	for i, r := range records {
		out[i] = r.Index
	}
	return out
}

func indexRange(from, to model.OplogIndex) []model.OplogIndex {
	var out []model.OplogIndex
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// recoverOplogError runs fn and returns the *Error it panicked with.
func recoverOplogError(t *testing.T, fn func()) (err *Error) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		oe, ok := r.(*Error)
		require.True(t, ok, "panic value %T is not *Error", r)
		err = oe
	}()
	fn()
	return nil
}
