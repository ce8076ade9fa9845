package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint32RLE_RoundTrip(t *testing.T) {
	flags := []uint32{0, 0, 0, 1, 1, 2, 2, 2, 2, 0}

	enc := NewUint32RLEEncoder()
	for _, f := range flags {
		enc.Append(f)
	}
	data := enc.Bytes()

	dec := NewUint32RLEDecoder(data, len(flags))
	for _, want := range flags {
		got, ok := dec.Next()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := dec.Next()
	assert.False(t, ok)
}

func TestUint32RLE_AllSame(t *testing.T) {
	enc := NewUint32RLEEncoder()
	for i := 0; i < 1000; i++ {
		enc.Append(5)
	}
	data := enc.Bytes()

	// 33 bits (tag plus value) for the first sample plus one bit per
	// remaining sample.
	assert.Less(t, len(data), 4+1000)

	dec := NewUint32RLEDecoder(data, 1000)
	for i := 0; i < 1000; i++ {
		v, ok := dec.Next()
		require.True(t, ok)
		assert.Equal(t, uint32(5), v)
	}
}

func TestUint64RLE_RoundTrip(t *testing.T) {
	ids := []uint64{10, 10, 10, 20, 20, 30, 10, 10}

	enc := NewUint64RLEEncoder()
	for _, id := range ids {
		enc.Append(id)
	}
	data := enc.Bytes()

	dec := NewUint64RLEDecoder(data, len(ids))
	for _, want := range ids {
		got, ok := dec.Next()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}
