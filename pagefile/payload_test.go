package pagefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/codec"
	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/format"
)

func testStreams() codec.Streams {
	return codec.Streams{
		Count: 3,
		Time:  []byte{1, 2, 3, 4, 5},
		Value: []byte{10, 20, 30, 40},
		Flag:  []byte{0xff, 0xff, 0xff},
		Id:    []byte{7, 7, 7, 7, 7, 7, 7, 7},
	}
}

func TestEncodeDecodePayload_RoundTrip(t *testing.T) {
	for _, ct := range []format.CompressionType{
		format.CompressionNone,
		format.CompressionS2,
		format.CompressionLZ4,
		format.CompressionZstd,
	} {
		t.Run(ct.String(), func(t *testing.T) {
			s := testStreams()

			buf, err := encodePayload(s, 0xdeadbeef, 4096, ct)
			require.NoError(t, err)
			assert.Len(t, buf, 4096)

			got, crc, err := decodePayload(buf)
			require.NoError(t, err)
			assert.Equal(t, uint32(0xdeadbeef), crc)
			assert.Equal(t, s, got)
		})
	}
}

func TestEncodePayload_ErrFullWhenChunkSizeTooSmall(t *testing.T) {
	s := testStreams()

	_, err := encodePayload(s, 0, payloadHeaderSize, format.CompressionNone)
	assert.ErrorIs(t, err, errs.ErrFull)
}

func TestDecodePayload_ShortBuffer(t *testing.T) {
	_, _, err := decodePayload(make([]byte, payloadHeaderSize-1))
	assert.ErrorIs(t, err, errs.ErrCorruption)
}

func TestDecodePayload_TruncatedPackedRegion(t *testing.T) {
	s := testStreams()

	buf, err := encodePayload(s, 0, 4096, format.CompressionS2)
	require.NoError(t, err)

	_, _, err = decodePayload(buf[:payloadHeaderSize+1])
	assert.ErrorIs(t, err, errs.ErrCorruption)
}
