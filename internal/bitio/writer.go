// Package bitio provides the bit-level writer and reader shared by every
// stream in the codec package (time, value, flag and id).
//
// The accumulator design (a 64-bit scratch buffer flushed to a byte
// buffer on overflow) is shared across all four streams rather than
// reimplemented per stream, since they all need the identical
// bit-packing primitive.
package bitio

import (
	"encoding/binary"

	"github.com/chronoflux/tsengine/internal/pool"
)

// Writer accumulates bits into a byte buffer, most-significant-bit first.
type Writer struct {
	buf      *pool.ByteBuffer
	bitBuf   uint64
	bitCount int
}

// NewWriter creates a bit writer backed by a fresh pooled byte buffer.
func NewWriter() *Writer {
	return &Writer{buf: pool.GetChunkBuffer()}
}

// Reset clears all accumulated state but keeps the underlying buffer.
func (w *Writer) Reset() {
	w.buf.Reset()
	w.bitBuf = 0
	w.bitCount = 0
}

// Release returns the backing buffer to the pool. The writer must not be
// used afterwards.
func (w *Writer) Release() {
	pool.PutChunkBuffer(w.buf)
	w.buf = nil
}

// WriteBit writes a single 0/1 bit.
func (w *Writer) WriteBit(bit uint64) {
	w.bitBuf = (w.bitBuf << 1) | (bit & 1)
	w.bitCount++
	if w.bitCount == 64 {
		w.flush()
	}
}

// WriteBits writes the low numBits bits of value (1-64 bits).
func (w *Writer) WriteBits(value uint64, numBits int) {
	if numBits == 0 {
		return
	}
	if numBits < 64 {
		value &= (uint64(1) << numBits) - 1
	}

	available := 64 - w.bitCount
	if numBits <= available {
		w.bitBuf = (w.bitBuf << numBits) | value
		w.bitCount += numBits
		if w.bitCount == 64 {
			w.flush()
		}

		return
	}

	highBits := numBits - available
	w.bitBuf = (w.bitBuf << available) | (value >> highBits)
	w.bitCount = 64
	w.flush()

	w.bitBuf = value & ((uint64(1) << highBits) - 1)
	w.bitCount = highBits
}

// flush drains the 64-bit scratch buffer into the byte buffer.
func (w *Writer) flush() {
	if w.bitCount == 0 {
		return
	}

	numBytes := (w.bitCount + 7) / 8
	aligned := w.bitBuf << (64 - w.bitCount)

	start := w.buf.Len()
	w.buf.ExtendOrGrow(numBytes)
	dst := w.buf.Slice(start, start+numBytes)

	if numBytes == 8 {
		binary.BigEndian.PutUint64(dst, aligned)
	} else {
		for i := range numBytes {
			dst[i] = byte(aligned >> (56 - i*8))
		}
	}

	w.bitBuf = 0
	w.bitCount = 0
}

// Bytes flushes any pending bits and returns the encoded byte slice.
// The slice is owned by the writer and is valid until Reset or Release.
func (w *Writer) Bytes() []byte {
	w.flush()
	return w.buf.Bytes()
}

// Len returns the number of fully flushed bytes (pending bits excluded).
func (w *Writer) Len() int {
	return w.buf.Len()
}

// BitLen returns the total number of bits written so far, flushed or not.
func (w *Writer) BitLen() int {
	return w.buf.Len()*8 + w.bitCount
}
