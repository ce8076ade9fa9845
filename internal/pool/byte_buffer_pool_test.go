package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBuffer_ResetPreservesCapacity(t *testing.T) {
	bb := NewByteBuffer(ChunkBufferDefaultSize)
	bb.ExtendOrGrow(100)
	originalCap := cap(bb.B)

	bb.Reset()

	assert.Equal(t, 0, bb.Len())
	assert.Equal(t, originalCap, cap(bb.B))
}

func TestByteBuffer_ExtendOrGrow(t *testing.T) {
	bb := NewByteBuffer(8)

	bb.ExtendOrGrow(4)
	assert.Equal(t, 4, bb.Len())

	// past initial capacity: must reallocate, not panic.
	bb.ExtendOrGrow(64)
	assert.Equal(t, 68, bb.Len())
	assert.GreaterOrEqual(t, cap(bb.B), 68)
}

func TestByteBuffer_SliceMatchesWrittenRegion(t *testing.T) {
	bb := NewByteBuffer(ChunkBufferDefaultSize)
	bb.ExtendOrGrow(8)
	dst := bb.Slice(0, 8)
	for i := range dst {
		dst[i] = byte(i)
	}

	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, bb.Bytes())
}

func TestByteBuffer_SlicePanicsOnOutOfRange(t *testing.T) {
	bb := NewByteBuffer(8)
	assert.Panics(t, func() { bb.Slice(0, 100) })
}

func TestByteBufferPool_GetReturnsEmptyBuffer(t *testing.T) {
	p := NewByteBufferPool(ChunkBufferDefaultSize, ChunkBufferMaxThreshold)

	bb := p.Get()
	require.NotNil(t, bb)
	assert.Equal(t, 0, bb.Len())
}

func TestByteBufferPool_PutResetsBeforeReuse(t *testing.T) {
	p := NewByteBufferPool(ChunkBufferDefaultSize, ChunkBufferMaxThreshold)

	bb := p.Get()
	bb.ExtendOrGrow(16)
	p.Put(bb)

	reused := p.Get()
	assert.Equal(t, 0, reused.Len())
}

func TestByteBufferPool_DiscardsOversizedBuffers(t *testing.T) {
	p := NewByteBufferPool(8, 32)

	bb := p.Get()
	bb.ExtendOrGrow(64) // grows past maxThreshold
	p.Put(bb)

	reused := p.Get()
	assert.LessOrEqual(t, cap(reused.B), 8, "oversized buffer should have been discarded, not pooled")
}

func TestByteBufferPool_PutNilIsNoop(t *testing.T) {
	p := NewByteBufferPool(ChunkBufferDefaultSize, ChunkBufferMaxThreshold)
	assert.NotPanics(t, func() { p.Put(nil) })
}

func TestGetPutChunkBuffer_RoundTrip(t *testing.T) {
	bb := GetChunkBuffer()
	require.NotNil(t, bb)
	bb.ExtendOrGrow(32)

	PutChunkBuffer(bb)

	again := GetChunkBuffer()
	assert.Equal(t, 0, again.Len())
	PutChunkBuffer(again)
}
