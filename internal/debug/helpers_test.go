package debug

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/storage/memory"
	"github.com/roach88/oplog/internal/testutil"
)

func newLiveService(t *testing.T) *oplog.PrimaryService {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	return oplog.NewPrimaryService(st, blob.NewMemory(), oplog.DefaultPrimaryConfig())
}

// seed creates owned with a Create entry followed by entries, commits, and
// returns the still-open live oplog.
func seed(t *testing.T, svc oplog.Service, b *testutil.Entries, owned model.OwnedWorkerID, entries ...model.Entry) oplog.Oplog {
	t.Helper()
	ctx := context.Background()
	o, err := svc.Create(ctx, owned, b.Create(owned), oplog.WorkerState{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	for _, e := range entries {
		_, err := o.Add(ctx, e)
		require.NoError(t, err)
	}
	_, err = o.Commit(ctx, oplog.CommitAlways)
	require.NoError(t, err)
	return o
}

// invocations returns two completed invocations followed by a hint:
//
//	2 invoked, 3 read, 4 completed, 5 invoked, 6 read, 7 completed, 8 log
func invocations(b *testutil.Entries) []model.Entry {
	return []model.Entry{
		b.ExportedInvoked("run", "k1"),
		b.ReadLocal("clock"),
		b.ExportedCompleted(),
		b.ExportedInvoked("run", "k2"),
		b.ReadLocal("clock"),
		b.ExportedCompleted(),
		b.Log("done"),
	}
}

func recoverPanic(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}
