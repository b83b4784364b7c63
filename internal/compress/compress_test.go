package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_AllCodecs(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      {},
		"text":       []byte("hello world, this is an oplog chunk"),
		"repetitive": bytes.Repeat([]byte(`{"kind":"NoOp"}`), 512),
	}

	for _, codec := range []Codec{None, Snappy, Zstd, LZ4} {
		for name, input := range inputs {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				frame, err := Encode(codec, input)
				require.NoError(t, err)

				out, err := Decode(frame)
				require.NoError(t, err)
				assert.Equal(t, len(input), len(out))
				assert.True(t, bytes.Equal(input, out))
			})
		}
	}
}

func TestEncode_CompressesRepetitiveInput(t *testing.T) {
	input := bytes.Repeat([]byte("ImportedFunctionInvoked"), 1000)
	for _, codec := range []Codec{Snappy, Zstd, LZ4} {
		frame, err := Encode(codec, input)
		require.NoError(t, err)
		assert.Less(t, len(frame), len(input)/4, codec.String())
	}
}

func TestDecode_RejectsCorruptFrames(t *testing.T) {
	_, err := Decode([]byte{1})
	assert.ErrorIs(t, err, ErrCorruptFrame)

	_, err = Decode([]byte{42, 3, 'a', 'b', 'c'})
	assert.ErrorIs(t, err, ErrCorruptFrame)

	frame, err := Encode(Snappy, []byte("payload"))
	require.NoError(t, err)
	frame[1] = 99
	_, err = Decode(frame)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "snappy", "zstd", "lz4"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	_, err := ParseCodec("brotli")
	assert.Error(t, err)
}
