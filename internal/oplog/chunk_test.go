package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/testutil"
)

func TestChunk_EncodeDecode(t *testing.T) {
	b := testutil.NewEntries()
	chunk := Chunk{First: 7, Entries: []model.Entry{b.ReadLocal("a"), b.Log("x"), b.NoOp()}}

	for _, codec := range []compress.Codec{compress.None, compress.Snappy, compress.Zstd, compress.LZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			data, err := EncodeChunk(codec, chunk)
			require.NoError(t, err)

			got, err := DecodeChunk(data)
			require.NoError(t, err)
			assert.Equal(t, chunk, got)
			assert.Equal(t, model.OplogIndex(9), got.Last())
		})
	}
}

func TestChunk_DecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeChunk(nil)
	assert.ErrorIs(t, err, ErrCorruptChunk)

	_, err = DecodeChunk([]byte{0x01, 0x02, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrCorruptChunk)
}

func TestChunk_HeaderCountMustMatch(t *testing.T) {
	b := testutil.NewEntries()
	data, err := EncodeChunk(compress.None, Chunk{First: 1, Entries: []model.Entry{b.NoOp()}})
	require.NoError(t, err)

	// Claim two entries instead of one.
	data[1] = 2
	_, err = DecodeChunk(data)
	assert.ErrorIs(t, err, ErrCorruptChunk)
}

func TestSplitChunks(t *testing.T) {
	b := testutil.NewEntries()
	rec := func(idx model.OplogIndex) Record { return Record{Index: idx, Entry: b.NoOp()} }

	tests := []struct {
		name    string
		records []Record
		limit   int
		want    [][2]model.OplogIndex
	}{
		{"empty", nil, 3, nil},
		{"fits", []Record{rec(1), rec(2)}, 3, [][2]model.OplogIndex{{1, 2}}},
		{"split by size", []Record{rec(1), rec(2), rec(3), rec(4)}, 3, [][2]model.OplogIndex{{1, 3}, {4, 4}}},
		{"split by gap", []Record{rec(1), rec(2), rec(5)}, 10, [][2]model.OplogIndex{{1, 2}, {5, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]model.OplogIndex
			for _, c := range splitChunks(tt.records, tt.limit) {
				got = append(got, [2]model.OplogIndex{c.First, c.Last()})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
