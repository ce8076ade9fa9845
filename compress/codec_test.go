package compress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/format"
)

// deltaEncodedTimestamps builds a byte slice shaped like a chunk's
// packed Time stream: mostly small, repeated delta values, which is
// what the compress package actually sees on the write path.
func deltaEncodedTimestamps(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 5)
	}

	return out
}

func TestGetCodec_RoundTrip(t *testing.T) {
	for _, ct := range []format.CompressionType{
		format.CompressionNone,
		format.CompressionS2,
		format.CompressionLZ4,
		format.CompressionZstd,
	} {
		t.Run(ct.String(), func(t *testing.T) {
			codec, err := GetCodec(ct)
			require.NoError(t, err)

			data := deltaEncodedTimestamps(4096)

			compressed, err := codec.Compress(data)
			require.NoError(t, err)

			decompressed, err := codec.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestGetCodec_EmptyInput(t *testing.T) {
	for _, ct := range []format.CompressionType{
		format.CompressionNone,
		format.CompressionS2,
		format.CompressionLZ4,
		format.CompressionZstd,
	} {
		codec, err := GetCodec(ct)
		require.NoError(t, err)

		compressed, err := codec.Compress(nil)
		require.NoError(t, err)

		decompressed, err := codec.Decompress(compressed)
		require.NoError(t, err)
		assert.Empty(t, decompressed)
	}
}

func TestGetCodec_UnsupportedType(t *testing.T) {
	_, err := GetCodec(format.CompressionType(0xff))
	assert.Error(t, err)
}

func TestCreateCodec_UnsupportedType(t *testing.T) {
	_, err := CreateCodec(format.CompressionType(0xff), "chunk payload")
	assert.ErrorContains(t, err, "chunk payload")
}

func TestS2Compressor_ActuallyShrinksRepetitiveDeltas(t *testing.T) {
	codec, err := GetCodec(format.CompressionS2)
	require.NoError(t, err)

	data := deltaEncodedTimestamps(16384)
	compressed, err := codec.Compress(data)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(data), "repetitive delta stream should compress")
}

func TestNoOpCompressor_BypassesData(t *testing.T) {
	codec, err := GetCodec(format.CompressionNone)
	require.NoError(t, err)

	data := []byte("raw chunk payload")
	compressed, err := codec.Compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, compressed)
}
