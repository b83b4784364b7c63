package oplog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/testutil"
)

func TestOpenOplogs_ConcurrentOpensShareOneOplog(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	owned := testutil.Worker("shared")
	svc := f.multiLayer(1000, 10)

	const opens = 50
	handles := make([]Oplog, opens)
	var g errgroup.Group
	for i := 0; i < opens; i++ {
		i := i
		g.Go(func() error {
			o, err := svc.Open(ctx, owned, model.NoneIndex, WorkerState{})
			handles[i] = o
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, svc.open.Len())

	underlying := Underlying(handles[0])
	for _, h := range handles[1:] {
		assert.Same(t, underlying, Underlying(h))
	}

	// A write through one handle is visible through every other.
	idx, err := handles[7].Add(ctx, f.entries.ReadLocal("f"))
	require.NoError(t, err)
	_, err = handles[7].Commit(ctx, CommitImmediate)
	require.NoError(t, err)
	for _, h := range handles {
		assert.Equal(t, idx, h.CurrentOplogIndex(ctx))
	}

	for _, h := range handles[:opens-1] {
		require.NoError(t, h.Close())
		assert.True(t, svc.open.IsOpen(owned))
	}
	require.NoError(t, handles[opens-1].Close())
	assert.False(t, svc.open.IsOpen(owned))
	assert.False(t, svc.Primary().open.IsOpen(owned), "closing the last handle releases the primary too")
}

func TestOpenOplogs_ConstructsOnce(t *testing.T) {
	reg := NewOpenOplogs()
	owned := testutil.Worker("once")
	f := newFixture(t, 10)

	var constructed atomic.Int32
	construct := func(ctx context.Context, onClose func()) (Oplog, error) {
		constructed.Add(1)
		return newPrimaryOplog(ctx, f.primary, owned, model.NoneIndex, onClose)
	}

	var g errgroup.Group
	handles := make([]Oplog, 50)
	for i := range handles {
		i := i
		g.Go(func() error {
			o, err := reg.GetOrOpen(context.Background(), owned, construct)
			handles[i] = o
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), constructed.Load())

	for _, h := range handles {
		require.NoError(t, h.Close())
	}
	assert.Equal(t, 0, reg.Len())

	// Reopening after the last close builds a fresh oplog.
	o, err := reg.GetOrOpen(context.Background(), owned, construct)
	require.NoError(t, err)
	assert.Equal(t, int32(2), constructed.Load())
	require.NoError(t, o.Close())
}

func TestOpenOplogs_CloseTwiceReleasesOnce(t *testing.T) {
	reg := NewOpenOplogs()
	owned := testutil.Worker("twice")
	f := newFixture(t, 10)
	construct := func(ctx context.Context, onClose func()) (Oplog, error) {
		return newPrimaryOplog(ctx, f.primary, owned, model.NoneIndex, onClose)
	}

	a, err := reg.GetOrOpen(context.Background(), owned, construct)
	require.NoError(t, err)
	b, err := reg.GetOrOpen(context.Background(), owned, construct)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.True(t, reg.IsOpen(owned), "b still holds a reference")

	require.NoError(t, b.Close())
	assert.False(t, reg.IsOpen(owned))
}

func TestOpenOplogs_ConstructorErrorIsNotCached(t *testing.T) {
	reg := NewOpenOplogs()
	owned := testutil.Worker("broken")
	boom := errors.New("boom")

	_, err := reg.GetOrOpen(context.Background(), owned, func(ctx context.Context, onClose func()) (Oplog, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, reg.Len())
}
