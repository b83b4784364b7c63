// Package storagetest is the conformance suite shared by every
// IndexedStorage backend.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/storage"
)

// Factory returns a fresh, empty backend. It should register any cleanup on t.
type Factory func(t *testing.T) storage.IndexedStorage

var (
	ns1 = storage.OplogNamespace()
	ns2 = storage.CompressedOplogNamespace(1)
)

// Run executes the suite against backends produced by newStorage.
func Run(t *testing.T, newStorage Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, is storage.IndexedStorage)
	}{
		{"ExistsAfterAppend", testExistsAfterAppend},
		{"NamespacesAreSeparate", testNamespacesAreSeparate},
		{"AppendAndRead", testAppendAndRead},
		{"AppendCannotOverwrite", testAppendCannotOverwrite},
		{"AppendCanSkip", testAppendCanSkip},
		{"Length", testLength},
		{"ScanEmpty", testScanEmpty},
		{"ScanAllPaginated", testScanAllPaginated},
		{"ScanPrefixPattern", testScanPrefixPattern},
		{"DeleteIsPerNamespace", testDeleteIsPerNamespace},
		{"DeleteMissingKey", testDeleteMissingKey},
		{"FirstAndLast", testFirstAndLast},
		{"Closest", testClosest},
		{"DropPrefix", testDropPrefix},
		{"WaitForReplicas", testWaitForReplicas},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStorage(t))
		})
	}
}

func appendAll(t *testing.T, is storage.IndexedStorage, ns storage.Namespace, key string, entries ...storage.Entry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, is.Append(context.Background(), ns, key, e.ID, e.Value))
	}
}

func scanAll(t *testing.T, is storage.IndexedStorage, ns storage.Namespace, pattern string, pageSize uint64) []string {
	t.Helper()
	var result []string
	var cursor uint64
	for i := 0; i < 100; i++ {
		next, keys, err := is.Scan(context.Background(), ns, pattern, cursor, pageSize)
		require.NoError(t, err)
		result = append(result, keys...)
		if next == 0 {
			sort.Strings(result)
			return result
		}
		cursor = next
	}
	t.Fatal("scan did not terminate")
	return nil
}

func e(id uint64, value string) storage.Entry {
	return storage.Entry{ID: id, Value: []byte(value)}
}

func testExistsAfterAppend(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()

	exists, err := is.Exists(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.False(t, exists)

	appendAll(t, is, ns1, "key1", e(1, "value1"))

	exists, err = is.Exists(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testNamespacesAreSeparate(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()
	appendAll(t, is, ns1, "key1", e(1, "value1"))

	exists, err := is.Exists(ctx, ns2, "key1")
	require.NoError(t, err)
	assert.False(t, exists)

	appendAll(t, is, ns2, "key1", e(1, "other"))
	got, err := is.Read(ctx, ns1, "key1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{e(1, "value1")}, got)
}

func testAppendAndRead(t *testing.T, is storage.IndexedStorage) {
	appendAll(t, is, ns1, "key1", e(1, "a"), e(2, "b"), e(3, "c"))

	got, err := is.Read(context.Background(), ns1, "key1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{e(2, "b"), e(3, "c")}, got)

	got, err = is.Read(context.Background(), ns1, "missing", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testAppendCannotOverwrite(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()
	appendAll(t, is, ns1, "key1", e(1, "value1"))

	err := is.Append(ctx, ns1, "key1", 1, []byte("value2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrAppendConflict))
}

func testAppendCanSkip(t *testing.T, is storage.IndexedStorage) {
	appendAll(t, is, ns1, "key1", e(4, "value1"), e(8, "value2"))

	got, err := is.Read(context.Background(), ns1, "key1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{e(4, "value1"), e(8, "value2")}, got)
}

func testLength(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()

	n, err := is.Length(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	appendAll(t, is, ns1, "key1", e(4, "value1"))
	n, err = is.Length(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	appendAll(t, is, ns1, "key1", e(8, "value2"))
	n, err = is.Length(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func testScanEmpty(t *testing.T, is storage.IndexedStorage) {
	assert.Empty(t, scanAll(t, is, ns1, "*", 10))
}

func testScanAllPaginated(t *testing.T, is storage.IndexedStorage) {
	appendAll(t, is, ns1, "key1", e(1, "v1"), e(2, "v2"))
	appendAll(t, is, ns1, "key2", e(1, "v2"))
	appendAll(t, is, ns2, "key3", e(1, "v3"))

	assert.Equal(t, []string{"key1", "key2"}, scanAll(t, is, ns1, "*", 10))
	assert.Equal(t, []string{"key1", "key2"}, scanAll(t, is, ns1, "*", 1))
}

func testScanPrefixPattern(t *testing.T, is storage.IndexedStorage) {
	appendAll(t, is, ns1, "key1", e(1, "v1"))
	appendAll(t, is, ns1, "other2", e(1, "v2"))
	appendAll(t, is, ns1, "key3", e(1, "v3"))

	assert.Equal(t, []string{"key1", "key3"}, scanAll(t, is, ns1, "key*", 10))
	assert.Equal(t, []string{"key1", "key3"}, scanAll(t, is, ns1, "key*", 1))
	assert.Equal(t, []string{"other2"}, scanAll(t, is, ns1, "other2", 1))
}

func testDeleteIsPerNamespace(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()
	appendAll(t, is, ns1, "key1", e(1, "v1"))
	appendAll(t, is, ns2, "key1", e(1, "v1"))

	require.NoError(t, is.Delete(ctx, ns1, "key1"))

	exists, err := is.Exists(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = is.Exists(ctx, ns2, "key1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testDeleteMissingKey(t *testing.T, is storage.IndexedStorage) {
	require.NoError(t, is.Delete(context.Background(), ns1, "nope"))
}

func testFirstAndLast(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()

	_, ok, err := is.First(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.False(t, ok)

	appendAll(t, is, ns1, "key1", e(5, "v5"), e(7, "v7"))

	first, ok, err := is.First(ctx, ns1, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e(5, "v5"), first)

	last, ok, err := is.Last(ctx, ns1, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e(7, "v7"), last)
}

func testClosest(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()

	_, ok, err := is.Closest(ctx, ns1, "key1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	appendAll(t, is, ns1, "key1", e(5, "v5"), e(7, "v7"))

	tests := []struct {
		id     uint64
		want   storage.Entry
		wantOK bool
	}{
		{3, e(5, "v5"), true},
		{5, e(5, "v5"), true},
		{6, e(7, "v7"), true},
		{10, storage.Entry{}, false},
	}
	for _, tt := range tests {
		got, ok, err := is.Closest(ctx, ns1, "key1", tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.wantOK, ok, "closest(%d)", tt.id)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "closest(%d)", tt.id)
		}
	}
}

func testDropPrefix(t *testing.T, is storage.IndexedStorage) {
	ctx := context.Background()
	appendAll(t, is, ns1, "key1", e(10, "v1"), e(11, "v2"), e(12, "v3"))

	require.NoError(t, is.DropPrefix(ctx, ns1, "key1", 5))
	got, err := is.Read(ctx, ns1, "key1", 1, 100)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.NoError(t, is.DropPrefix(ctx, ns1, "key1", 10))
	got, err = is.Read(ctx, ns1, "key1", 1, 100)
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{e(11, "v2"), e(12, "v3")}, got)

	require.NoError(t, is.DropPrefix(ctx, ns1, "key1", 20))
	got, err = is.Read(ctx, ns1, "key1", 1, 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	exists, err := is.Exists(ctx, ns1, "key1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testWaitForReplicas(t *testing.T, is storage.IndexedStorage) {
	assert.Equal(t, uint8(1), is.NumberOfReplicas())

	n, err := is.WaitForReplicas(context.Background(), 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), n)
}
