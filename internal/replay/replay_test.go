package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/storage/memory"
	"github.com/roach88/oplog/internal/testutil"
)

// records numbers entries from first.
func records(first model.OplogIndex, entries ...model.Entry) []oplog.Record {
	out := make([]oplog.Record, len(entries))
	for i, e := range entries {
		out[i] = oplog.Record{Index: first + model.OplogIndex(i), Entry: e}
	}
	return out
}

func TestVerify_RemoteWriteClosed(t *testing.T) {
	b := testutil.NewEntries()
	state, err := VerifyRecords("w", records(1,
		b.BeginRemoteWrite(),
		b.ImportedFunction("put", model.WriteRemoteBatchedFunction(1)),
		b.EndRemoteWrite(1),
	))
	require.NoError(t, err)
	assert.True(t, state.IsConsistent())
	assert.Empty(t, state.OpenRegions)
	assert.Equal(t, model.OplogIndex(3), state.LastIndex)
}

func TestVerify_CompletionInsideRemoteWrite(t *testing.T) {
	b := testutil.NewEntries()
	state, err := VerifyRecords("w", records(1,
		b.BeginRemoteWrite(),
		b.ImportedFunction("put", model.WriteRemoteBatchedFunction(1)),
		b.ExportedCompleted(),
		b.EndRemoteWrite(1),
	))
	require.Error(t, err)

	var verr *ViolationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, model.OplogIndex(3), verr.Violations[0].Index)
	assert.Equal(t, model.OplogIndex(1), verr.Violations[0].Begin)
	assert.Equal(t, model.KindExportedFunctionCompleted, verr.Violations[0].Kind)
	assert.True(t, oplog.IsConcurrentSideEffect(err))
	assert.False(t, state.IsConsistent())
}

func TestVerify_WriteForOtherRegion(t *testing.T) {
	b := testutil.NewEntries()
	_, err := VerifyRecords("w", records(1,
		b.BeginRemoteWrite(),
		b.ImportedFunction("put", model.WriteRemoteBatchedFunction(7)),
		b.EndRemoteWrite(1),
	))
	assert.True(t, oplog.IsConcurrentSideEffect(err))
}

func TestVerify_PersistNothingBypass(t *testing.T) {
	b := testutil.NewEntries()
	state, err := VerifyRecords("w", records(1,
		b.PersistenceLevel(model.PersistNothing),
		b.BeginRemoteWrite(),
		b.ExportedCompleted(),
		b.EndRemoteWrite(2),
	))
	require.NoError(t, err)
	assert.Equal(t, model.PersistNothing, state.PersistenceLevel)
}

func TestVerify_LocalCallsAllowedInsideWrite(t *testing.T) {
	b := testutil.NewEntries()
	_, err := VerifyRecords("w", records(1,
		b.BeginRemoteWrite(),
		b.ReadLocal("clock"),
		b.Log("inside"),
		b.EndRemoteWrite(1),
	))
	assert.NoError(t, err)
}

func TestVerify_Transactions(t *testing.T) {
	b := testutil.NewEntries()
	_, err := VerifyRecords("w", records(1,
		b.BeginTransaction("tx-1"),
		b.ImportedFunction("insert", model.WriteRemoteTransactionFunction(1)),
		b.PreCommit(1),
		b.Committed(1),
		b.BeginTransaction("tx-2"),
		b.RolledBack(5),
	))
	assert.NoError(t, err)
}

func TestVerify_UnmatchedEnd(t *testing.T) {
	b := testutil.NewEntries()
	_, err := VerifyRecords("w", records(1,
		b.NoOp(),
		b.EndAtomicRegion(1),
		b.Committed(2),
	))

	var verr *ViolationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 2)
	for _, v := range verr.Violations {
		assert.Equal(t, ErrCodeUnmatchedRegionEnd, v.Code)
	}
}

func TestVerify_EndOfDroppedRegionIgnored(t *testing.T) {
	b := testutil.NewEntries()
	_, err := VerifyRecords("w", records(10,
		b.NoOp(),
		b.EndAtomicRegion(4),
	))
	assert.NoError(t, err)
}

func TestVerify_IndexGap(t *testing.T) {
	b := testutil.NewEntries()
	recs := records(1, b.NoOp(), b.NoOp())
	recs[1].Index = 5

	_, err := VerifyRecords("w", recs)
	var verr *ViolationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCodeIndexGap, verr.Violations[0].Code)
}

func TestVerify_TracksState(t *testing.T) {
	b := testutil.NewEntries()
	owned := testutil.Worker("w")
	state, err := VerifyRecords(owned.String(), records(1,
		b.Create(owned),
		b.ExportedInvoked("run", "k1"),
		b.ExportedCompleted(),
		b.SuccessfulUpdate(3),
		b.ExportedInvoked("run", "k2"),
		b.BeginAtomicRegion(),
		b.Jump(2, 3),
		b.Log("hint"),
	))
	require.NoError(t, err)

	assert.Equal(t, model.ComponentRevision(3), state.ComponentRevision)
	assert.Equal(t, 2, state.Invocations)
	assert.Equal(t, 1, state.Completions)
	assert.Equal(t, model.OplogIndex(5), state.PendingInvocation)
	assert.Equal(t, []Region{{Kind: RegionAtomic, Begin: 6}}, state.OpenRegions)
	assert.Equal(t, []model.OplogRegion{{Start: 2, End: 3}}, state.Skipped)
	assert.Equal(t, model.OplogIndex(7), state.LastNonHintIndex)
	assert.Equal(t, 8, state.Entries)
}

func TestSafeDropPoint(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  model.OplogIndex
	}{
		{"empty", State{}, model.NoneIndex},
		{"nothing open", State{LastIndex: 9}, 9},
		{"open region", State{LastIndex: 9, OpenRegions: []Region{{RegionRemoteWrite, 6}, {RegionAtomic, 4}}}, 3},
		{"pending invocation", State{LastIndex: 9, PendingInvocation: 2, OpenRegions: []Region{{RegionAtomic, 4}}}, 1},
		{"region at start", State{LastIndex: 9, OpenRegions: []Region{{RegionAtomic, 1}}}, model.NoneIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeDropPoint(tt.state))
		})
	}
}

func TestVerify_FromService(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	svc := oplog.NewPrimaryService(st, blob.NewMemory(), oplog.DefaultPrimaryConfig())

	b := testutil.NewEntries()
	owned := testutil.Worker("svc")
	o, err := svc.Create(ctx, owned, b.Create(owned), oplog.WorkerState{})
	require.NoError(t, err)
	defer o.Close()

	for _, e := range []model.Entry{b.BeginRemoteWrite(), b.ExportedCompleted(), b.EndRemoteWrite(2)} {
		_, err := o.Add(ctx, e)
		require.NoError(t, err)
	}
	_, err = o.Commit(ctx, oplog.CommitAlways)
	require.NoError(t, err)

	state, err := Verify(ctx, svc, owned, 2)
	assert.True(t, oplog.IsConcurrentSideEffect(err))
	assert.Equal(t, 4, state.Entries)
	assert.Equal(t, model.OplogIndex(3), state.Violations[0].Index)
}
