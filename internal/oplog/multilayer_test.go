package oplog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/storage"
	"github.com/roach88/oplog/internal/testutil"
)

func archiveLength(t *testing.T, svc ArchiveService, owned model.OwnedWorkerID) uint64 {
	t.Helper()
	a, err := svc.Open(context.Background(), owned)
	require.NoError(t, err)
	defer a.Close()
	n, err := a.Length(context.Background())
	require.NoError(t, err)
	return n
}

func TestMultiLayer_EntriesTransferredAreStillReadable(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(10, 10)
	owned := testutil.Worker("transfer")

	o, err := svc.Create(ctx, owned, f.entries.Create(owned), WorkerState{})
	require.NoError(t, err)
	const n = 100
	for i := 1; i < n; i++ {
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
		_, err = o.Commit(ctx, CommitImmediate)
		require.NoError(t, err)
	}
	require.NoError(t, o.Close())

	records, err := svc.Read(ctx, owned, model.NoneIndex, n+100)
	require.NoError(t, err)
	assert.Equal(t, indexRange(1, n), indices(records))

	records, err = svc.Read(ctx, owned, 40, 20)
	require.NoError(t, err)
	assert.Equal(t, indexRange(40, 59), indices(records))

	all, err := ReadAll(ctx, svc, owned, 7)
	require.NoError(t, err)
	assert.Len(t, all, n)

	primaryLen, err := f.storage.Length(ctx, storage.OplogNamespace(), owned.WorkerID.Key())
	require.NoError(t, err)
	assert.Less(t, primaryLen, uint64(n), "some entries left the primary")
}

func TestMultiLayer_EmptyLayerGetsDeleted(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(10, 10)
	owned := testutil.Worker("cascade")

	o, err := svc.Create(ctx, owned, f.entries.Create(owned), WorkerState{})
	require.NoError(t, err)
	for batch := 0; batch < 10; batch++ {
		for i := 0; i < 100; i++ {
			_, err := o.Add(ctx, f.entries.ReadLocal("f"))
			require.NoError(t, err)
		}
		_, err := o.Commit(ctx, CommitAlways)
		require.NoError(t, err)
	}
	require.NoError(t, o.Close())

	primaryExists, err := f.primary.Exists(ctx, owned)
	require.NoError(t, err)
	assert.False(t, primaryExists)

	layer0, err := svc.Layers()[0].Exists(ctx, owned)
	require.NoError(t, err)
	assert.False(t, layer0)

	assert.Equal(t, uint64(1001), archiveLength(t, svc.Layers()[1], owned))

	last, err := svc.GetLastIndex(ctx, owned)
	require.NoError(t, err)
	assert.Equal(t, model.OplogIndex(1001), last, "last index falls back to the deepest layer")
}

func TestMultiLayer_ArchiveOnDemand(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(1000, 10)
	owned := testutil.Worker("on-demand")

	o := mustCreate(t, svc, f, owned, WorkerState{})
	for i := 0; i < 5; i++ {
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
	}
	ml := Underlying(o).(*MultiLayerOplog)

	more, err := ml.Archive(ctx, true)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, uint64(6), archiveLength(t, svc.Layers()[0], owned))

	more, err = ml.Archive(ctx, true)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, uint64(0), archiveLength(t, svc.Layers()[0], owned))
	assert.Equal(t, uint64(6), archiveLength(t, svc.Layers()[1], owned))

	more, err = ml.Archive(ctx, true)
	require.NoError(t, err)
	assert.False(t, more)

	n, err := o.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	entry, err := o.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, model.KindImportedFunctionInvoked, entry.Kind())
}

func TestMultiLayer_ReadMissingPanics(t *testing.T) {
	f := newFixture(t, 1000)
	svc := f.multiLayer(1000, 10)
	o := mustCreate(t, svc, f, testutil.Worker("missing"), WorkerState{})

	oe := recoverOplogError(t, func() { _, _ = o.Read(context.Background(), 99) })
	assert.True(t, IsEntryMissing(oe))
}

func TestMultiLayer_CreateExistingPanics(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(1000, 10)
	owned := testutil.Worker("exists")

	o := mustCreate(t, svc, f, owned, WorkerState{})
	ml := Underlying(o).(*MultiLayerOplog)
	_, err := ml.Archive(ctx, true)
	require.NoError(t, err)

	// Only an archive layer holds the worker now; Create must still refuse.
	oe := recoverOplogError(t, func() {
		_, _ = svc.Create(ctx, owned, f.entries.Create(owned), WorkerState{})
	})
	assert.True(t, IsAlreadyExists(oe))
}

func TestMultiLayer_ScanReportsEachWorkerOnce(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(1000, 10)

	archiveTimes := map[string]int{"primary-only": 0, "split": 1, "deep": 2}
	for name, times := range archiveTimes {
		owned := testutil.Worker(name)
		o := mustCreate(t, svc, f, owned, WorkerState{})
		ml := Underlying(o).(*MultiLayerOplog)
		for i := 0; i < times; i++ {
			_, err := ml.Archive(ctx, true)
			require.NoError(t, err)
		}
		if name == "split" {
			// New entries in the primary while older ones sit in layer 0.
			_, err := o.Add(ctx, f.entries.ReadLocal("f"))
			require.NoError(t, err)
			_, err = o.Commit(ctx, CommitImmediate)
			require.NoError(t, err)
		}
	}

	ids, err := ScanAll(ctx, svc, testutil.Environment, testutil.Component, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.OwnedWorkerID{
		testutil.Worker("primary-only"), testutil.Worker("split"), testutil.Worker("deep"),
	}, ids)
}

func TestMultiLayer_DeleteRemovesEveryLayer(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(1000, 10)
	owned := testutil.Worker("delete")

	o, err := svc.Create(ctx, owned, f.entries.Create(owned), WorkerState{})
	require.NoError(t, err)
	ml := Underlying(o).(*MultiLayerOplog)
	_, err = ml.Archive(ctx, true)
	require.NoError(t, err)
	_, err = o.Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)
	_, err = o.Commit(ctx, CommitImmediate)
	require.NoError(t, err)
	require.NoError(t, o.Close())

	require.NoError(t, svc.Delete(ctx, owned))
	exists, err := svc.Exists(ctx, owned)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMultiLayer_DropPrefixAcrossLayers(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	svc := f.multiLayer(1000, 10)
	owned := testutil.Worker("drop-layers")

	o := mustCreate(t, svc, f, owned, WorkerState{})
	ml := Underlying(o).(*MultiLayerOplog)
	for i := 0; i < 3; i++ {
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
	}
	_, err := ml.Archive(ctx, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := o.Add(ctx, f.entries.ReadLocal("f"))
		require.NoError(t, err)
	}
	_, err = o.Commit(ctx, CommitImmediate)
	require.NoError(t, err)

	// 1-4 live in one archived chunk, 5-7 in the primary.
	dropped, err := o.DropPrefix(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), dropped)

	records, err := svc.Read(ctx, owned, model.InitialIndex, 100)
	require.NoError(t, err)
	assert.Equal(t, indexRange(6, 7), indices(records))
}
