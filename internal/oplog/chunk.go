package oplog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/model"
)

// MaxChunkSize is the largest number of entries stored in one compressed
// chunk. Larger appends are split.
const MaxChunkSize = 1024

// ErrCorruptChunk is returned for chunks that cannot be decoded.
var ErrCorruptChunk = errors.New("corrupt oplog chunk")

// Chunk is a run of consecutive entries starting at First.
//
// Encoded layout:
//
//	uvarint first | uvarint count | compress frame of model.EncodeEntries
type Chunk struct {
	First   model.OplogIndex
	Entries []model.Entry
}

// Last returns the index of the final entry.
func (c Chunk) Last() model.OplogIndex {
	return c.First.RangeEnd(uint64(len(c.Entries)))
}

// Records returns the entries with their indices.
func (c Chunk) Records() []Record {
	records := make([]Record, len(c.Entries))
	for i, e := range c.Entries {
		records[i] = Record{Index: c.First + model.OplogIndex(i), Entry: e}
	}
	return records
}

// EncodeChunk serializes c compressed with codec.
func EncodeChunk(codec compress.Codec, c Chunk) ([]byte, error) {
	payload, err := model.EncodeEntries(c.Entries)
	if err != nil {
		return nil, fmt.Errorf("encode chunk at %d: %w", c.First, err)
	}
	frame, err := compress.Encode(codec, payload)
	if err != nil {
		return nil, fmt.Errorf("encode chunk at %d: %w", c.First, err)
	}
	out := make([]byte, 0, 2*binary.MaxVarintLen64+len(frame))
	out = binary.AppendUvarint(out, uint64(c.First))
	out = binary.AppendUvarint(out, uint64(len(c.Entries)))
	return append(out, frame...), nil
}

// DecodeChunk parses bytes written by EncodeChunk.
func DecodeChunk(data []byte) (Chunk, error) {
	first, count, n, err := chunkHeader(data)
	if err != nil {
		return Chunk{}, err
	}
	payload, err := compress.Decode(data[n:])
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	entries, err := model.DecodeEntries(payload)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	if uint64(len(entries)) != count {
		return Chunk{}, fmt.Errorf("%w: header says %d entries, found %d", ErrCorruptChunk, count, len(entries))
	}
	return Chunk{First: model.OplogIndex(first), Entries: entries}, nil
}

// chunkHeader reads the first index and entry count without decompressing.
// n is the header length.
func chunkHeader(data []byte) (first, count uint64, n int, err error) {
	first, n1 := binary.Uvarint(data)
	if n1 <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: bad first index", ErrCorruptChunk)
	}
	count, n2 := binary.Uvarint(data[n1:])
	if n2 <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: bad entry count", ErrCorruptChunk)
	}
	return first, count, n1 + n2, nil
}

// splitChunks groups records into runs of consecutive indices of at most
// limit entries.
func splitChunks(records []Record, limit int) []Chunk {
	var chunks []Chunk
	for _, r := range records {
		n := len(chunks)
		if n == 0 || len(chunks[n-1].Entries) >= limit || chunks[n-1].Last().Next() != r.Index {
			chunks = append(chunks, Chunk{First: r.Index})
			n++
		}
		chunks[n-1].Entries = append(chunks[n-1].Entries, r.Entry)
	}
	return chunks
}

// recordsInRange keeps the records with start <= index <= end.
func recordsInRange(records []Record, start, end model.OplogIndex) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Index >= start && r.Index <= end {
			out = append(out, r)
		}
	}
	return out
}
