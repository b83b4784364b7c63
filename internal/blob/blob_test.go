package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ns := PayloadNamespace("comp")

			_, ok, err := s.Get(ctx, ns, "ab/1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, ns, "ab/1", []byte("hello")))
			data, ok, err := s.Get(ctx, ns, "ab/1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("hello"), data)

			exists, err := s.Exists(ctx, ns, "ab/1")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, s.Delete(ctx, ns, "ab/1"))
			exists, err = s.Exists(ctx, ns, "ab/1")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, s.Delete(ctx, ns, "ab/1"))
		})
	}
}

func TestStore_ListAndDeleteDir(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ns := CompressedOplogNamespace("comp", 0)

			require.NoError(t, s.Put(ctx, ns, "w1/10", []byte("a")))
			require.NoError(t, s.Put(ctx, ns, "w1/20", []byte("b")))
			require.NoError(t, s.Put(ctx, ns, "w2/5", []byte("c")))

			names, err := s.List(ctx, ns, "w1")
			require.NoError(t, err)
			assert.Equal(t, []string{"10", "20"}, names)

			dirs, err := s.ListDirs(ctx, ns)
			require.NoError(t, err)
			assert.Equal(t, []string{"w1", "w2"}, dirs)

			require.NoError(t, s.DeleteMany(ctx, ns, []string{"w1/10"}))
			names, err = s.List(ctx, ns, "w1")
			require.NoError(t, err)
			assert.Equal(t, []string{"20"}, names)

			require.NoError(t, s.DeleteDir(ctx, ns, "w1"))
			dirs, err = s.ListDirs(ctx, ns)
			require.NoError(t, err)
			assert.Equal(t, []string{"w2"}, dirs)

			other, err := s.ListDirs(ctx, CompressedOplogNamespace("comp", 1))
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}
