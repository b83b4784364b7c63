// Package compress frames byte slices with one of the supported codecs.
//
// A frame is self-describing:
//
//	[codec:1][uncompressed length:uvarint][compressed bytes]
//
// so readers never need to know which codec an archive level was written
// with, and a level can change codec without rewriting old chunks.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm.
type Codec byte

const (
	None   Codec = 0
	Snappy Codec = 1
	Zstd   Codec = 2
	LZ4    Codec = 3
)

// maxFrameSize bounds the declared uncompressed size of a frame.
const maxFrameSize = 256 << 20

// ErrCorruptFrame is returned for frames that cannot be decoded.
var ErrCorruptFrame = errors.New("corrupt compressed frame")

// ParseCodec parses a codec name as used in configuration.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none", "":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return None, fmt.Errorf("unknown compression codec %q", name)
}

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	}
	return fmt.Sprintf("codec(%d)", byte(c))
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodecs returns shared encoder/decoder instances; EncodeAll and
// DecodeAll are safe for concurrent use.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Encode compresses src into a frame.
func Encode(codec Codec, src []byte) ([]byte, error) {
	header := make([]byte, 1, 1+binary.MaxVarintLen64)
	header[0] = byte(codec)
	header = binary.AppendUvarint(header, uint64(len(src)))
	if len(src) == 0 {
		header[0] = byte(None)
		return header, nil
	}

	switch codec {
	case None:
		return append(header, src...), nil
	case Snappy:
		return append(header, snappy.Encode(nil, src)...), nil
	case Zstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		return enc.EncodeAll(src, header), nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 && len(src) > 0 {
			// Incompressible input; store it raw.
			header[0] = byte(None)
			return append(header, src...), nil
		}
		return append(header, dst[:n]...), nil
	}
	return nil, fmt.Errorf("encode: unknown codec %d", byte(codec))
}

// Decode decompresses a frame produced by Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, ErrCorruptFrame
	}
	codec := Codec(frame[0])
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > maxFrameSize {
		return nil, ErrCorruptFrame
	}
	body := frame[1+n:]

	var out []byte
	var err error
	switch codec {
	case None:
		out = append([]byte(nil), body...)
	case Snappy:
		out, err = snappy.Decode(nil, body)
	case Zstd:
		var dec *zstd.Decoder
		if _, dec, err = zstdCodecs(); err == nil {
			out, err = dec.DecodeAll(body, make([]byte, 0, size))
		}
	case LZ4:
		out = make([]byte, size)
		var m int
		m, err = lz4.UncompressBlock(body, out)
		out = out[:max(m, 0)]
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorruptFrame, byte(codec))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFrame, codec, err)
	}
	if uint64(len(out)) != size {
		return nil, fmt.Errorf("%w: %s: got %d bytes, header says %d", ErrCorruptFrame, codec, len(out), size)
	}
	return out, nil
}
