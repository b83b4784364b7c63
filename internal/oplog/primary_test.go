package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/storage"
	"github.com/roach88/oplog/internal/testutil"
)

func TestPrimary_AddIsMonotonic(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	owned := testutil.Worker("monotonic")
	o := mustCreate(t, f.primary, f, owned, WorkerState{})

	prev := o.CurrentOplogIndex(ctx)
	assert.Equal(t, model.InitialIndex, prev)
	for i := 0; i < 10; i++ {
		idx, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
		assert.Equal(t, prev.Next(), idx)
		assert.Equal(t, idx, o.CurrentOplogIndex(ctx))
		prev = idx
	}
}

func TestPrimary_CommitIsIdempotent(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	o := mustCreate(t, f.primary, f, testutil.Worker("idempotent"), WorkerState{})

	_, err := o.Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)

	committed, err := o.Commit(ctx, CommitImmediate)
	require.NoError(t, err)
	assert.Equal(t, []model.OplogIndex{2}, indices(committed))

	committed, err = o.Commit(ctx, CommitImmediate)
	require.NoError(t, err)
	assert.Empty(t, committed)

	n, err := o.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestPrimary_ThresholdTriggersCommit(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	owned := testutil.Worker("threshold")
	o := mustOpen(t, f.primary, owned, model.NoneIndex, WorkerState{})

	for i := 0; i < 2; i++ {
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
	}
	n, err := o.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n, "below threshold nothing is stored")

	_, err = o.Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)
	n, err = o.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	_, err = o.Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)
	n, err = o.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n, "fourth entry stays buffered")
}

func TestPrimary_ReadAfterCommit(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	owned := testutil.Worker("read")
	o := mustCreate(t, f.primary, f, owned, WorkerState{})

	added := map[model.OplogIndex]model.Entry{}
	for i := 0; i < 5; i++ {
		e := f.entries.ReadLocal("f")
		idx, err := o.Add(ctx, e)
		require.NoError(t, err)
		added[idx] = e
	}
	_, err := o.Commit(ctx, CommitAlways)
	require.NoError(t, err)

	for idx, want := range added {
		got, err := o.Read(ctx, idx)
		require.NoError(t, err)
		assert.Equal(t, want, got, "index %d", idx)
	}

	first, err := o.Read(ctx, model.InitialIndex)
	require.NoError(t, err)
	assert.Equal(t, model.KindCreate, first.Kind())

	oe := recoverOplogError(t, func() { _, _ = o.Read(ctx, 42) })
	assert.Equal(t, ErrCodeEntryMissing, oe.Code)
	assert.Equal(t, model.OplogIndex(42), oe.Index)
}

func TestPrimary_CreateExistingPanics(t *testing.T) {
	f := newFixture(t, 10)
	owned := testutil.Worker("twice")
	first := mustCreate(t, f.primary, f, owned, WorkerState{})
	require.NoError(t, first.Close())

	oe := recoverOplogError(t, func() {
		_, _ = f.primary.Create(context.Background(), owned, f.entries.Create(owned), WorkerState{})
	})
	assert.True(t, IsAlreadyExists(oe))
}

func TestPrimary_LastAddedNonHintEntry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	o := mustOpen(t, f.primary, testutil.Worker("hints"), model.NoneIndex, WorkerState{})

	_, ok := o.LastAddedNonHintEntry(ctx)
	assert.False(t, ok)

	idx, err := o.Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)
	_, err = o.Add(ctx, f.entries.Log("hello"))
	require.NoError(t, err)

	got, ok := o.LastAddedNonHintEntry(ctx)
	assert.True(t, ok)
	assert.Equal(t, idx, got)
}

func TestPrimary_DropPrefix(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	owned := testutil.Worker("drop")
	o := mustCreate(t, f.primary, f, owned, WorkerState{})
	for i := 0; i < 4; i++ {
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
	}
	_, err := o.Commit(ctx, CommitAlways)
	require.NoError(t, err)

	dropped, err := o.DropPrefix(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), dropped)

	records, err := f.primary.Read(ctx, owned, model.InitialIndex, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.OplogIndex{4, 5}, indices(records))

	dropped, err = o.DropPrefix(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), dropped)

	exists, err := f.primary.Exists(ctx, owned)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPrimary_Payloads(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	owned := testutil.Worker("payloads")
	o := mustOpen(t, f.primary, owned, model.NoneIndex, WorkerState{})

	small := []byte("tiny")
	p, err := o.UploadPayload(ctx, small)
	require.NoError(t, err)
	assert.True(t, p.IsInline())
	got, err := o.DownloadPayload(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, small, got)

	large := []byte("a payload that is longer than sixteen bytes")
	p, err = o.UploadPayload(ctx, large)
	require.NoError(t, err)
	assert.False(t, p.IsInline())
	assert.Len(t, p.MD5Hash, 16)

	exists, err := f.blobs.Exists(ctx, blob.PayloadNamespace(owned.ComponentID()), p.BlobPath())
	require.NoError(t, err)
	assert.True(t, exists)

	got, err = o.DownloadPayload(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, large, got)
}

func TestPrimary_PayloadErrors(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	owned := testutil.Worker("payload-errors")

	p, err := f.primary.UploadPayload(ctx, owned, []byte("a payload that is longer than sixteen bytes"))
	require.NoError(t, err)

	require.NoError(t, f.blobs.Put(ctx, blob.PayloadNamespace(owned.ComponentID()), p.BlobPath(), []byte("tampered")))
	_, err = f.primary.DownloadPayload(ctx, owned, p)
	assert.True(t, IsPayloadCorrupt(err), "got %v", err)

	require.NoError(t, f.blobs.Delete(ctx, blob.PayloadNamespace(owned.ComponentID()), p.BlobPath()))
	_, err = f.primary.DownloadPayload(ctx, owned, p)
	assert.True(t, IsPayloadNotFound(err), "got %v", err)
}

func TestPrimary_WaitForReplicasCommitsFirst(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	o := mustOpen(t, f.primary, testutil.Worker("replicas"), model.NoneIndex, WorkerState{})

	_, err := o.Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)

	assert.True(t, o.WaitForReplicas(ctx, 3, time.Second))
	n, err := o.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestPrimary_GetLastIndexAndScan(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		o := mustCreate(t, f.primary, f, testutil.Worker(name), WorkerState{})
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
	}
	// Another component must not show up.
	other := model.NewOwnedWorkerID(testutil.Environment, model.NewWorkerID("other", "x"))
	require.NoError(t, f.storage.Append(ctx, storage.OplogNamespace(), other.WorkerID.Key(), 1, []byte("{}")))

	last, err := f.primary.GetLastIndex(ctx, testutil.Worker("b"))
	require.NoError(t, err)
	assert.Equal(t, model.OplogIndex(2), last)

	last, err = f.primary.GetLastIndex(ctx, testutil.Worker("missing"))
	require.NoError(t, err)
	assert.True(t, last.IsNone())

	ids, err := ScanAll(ctx, f.primary, testutil.Environment, testutil.Component, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.OwnedWorkerID{
		testutil.Worker("a"), testutil.Worker("b"), testutil.Worker("c"),
	}, ids)
}

func TestPrimary_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, 10)
	svc := NewPrimaryService(f.storage, f.blobs, DefaultPrimaryConfig(), WithTracerProvider(tp))
	owned := testutil.Worker("traced")
	mustCreate(t, svc, f, owned, WorkerState{})
	_, err := svc.Read(context.Background(), owned, model.InitialIndex, 1)
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "oplog.primary.create")
	assert.Contains(t, names, "oplog.primary.read")
}
