package codec

import (
	"math"
	"math/bits"

	"github.com/chronoflux/tsengine/internal/bitio"
)

// ValueEncoder packs a float64 sequence with Facebook's Gorilla XOR
// scheme: the first value is stored raw, every later value is XOR'd
// against its predecessor and only the meaningful bit window is kept,
// tagged with a 5-bit leading-zero count and a 6-bit window length
// whenever the window differs from the previous one.
//
// Built on the shared bitio accumulator so it can sit alongside the
// time/flag/id streams in one chunk codec, rather than a dedicated
// value-only buffer type.
type ValueEncoder struct {
	w *bitio.Writer

	prevValue     uint64
	prevLeading   int
	prevTrailing  int
	prevBlockSize int
	n             int
}

// NewValueEncoder returns an empty ValueEncoder.
func NewValueEncoder() *ValueEncoder {
	return &ValueEncoder{w: bitio.NewWriter()}
}

// Reset clears the encoder for reuse on a new chunk.
func (e *ValueEncoder) Reset() {
	e.w.Reset()
	e.prevValue = 0
	e.prevLeading = 0
	e.prevTrailing = 0
	e.prevBlockSize = 0
	e.n = 0
}

// Append adds the next value to the stream.
func (e *ValueEncoder) Append(v float64) {
	bits64 := math.Float64bits(v)

	if e.n == 0 {
		e.w.WriteBits(bits64, 64)
		e.prevValue = bits64
		e.n++

		return
	}

	e.writeValue(bits64)
	e.n++
}

func (e *ValueEncoder) writeValue(valBits uint64) {
	xor := valBits ^ e.prevValue
	e.prevValue = valBits

	if xor == 0 {
		e.w.WriteBit(0)
		return
	}

	e.w.WriteBit(1)

	leading := bits.LeadingZeros64(xor)
	trailing := bits.TrailingZeros64(xor)
	if leading > 31 {
		adjustment := leading - 31
		leading = 31
		trailing -= adjustment
		if trailing < 0 {
			trailing = 0
		}
	}

	if e.n > 1 && e.prevBlockSize > 0 && leading >= e.prevLeading && trailing >= e.prevTrailing {
		e.w.WriteBit(0)
		e.w.WriteBits(xor>>e.prevTrailing, e.prevBlockSize)

		return
	}

	blockSize := 64 - leading - trailing
	e.w.WriteBit(1)
	e.w.WriteBits(uint64(leading), 5)
	e.w.WriteBits(uint64(blockSize-1), 6)
	e.w.WriteBits(xor>>trailing, blockSize)

	e.prevLeading = leading
	e.prevTrailing = trailing
	e.prevBlockSize = blockSize
}

// Len returns the number of values appended so far.
func (e *ValueEncoder) Len() int { return e.n }

// BitLen reports the total number of bits written so far.
func (e *ValueEncoder) BitLen() int { return e.w.BitLen() }

// WorstCaseNextBits returns the most bits the next Append could cost.
// The first value costs a raw 64-bit write; every later one falls back
// to at most a full new block: xor-bit, sameBlock-bit, 5-bit leading
// count, 6-bit block size and a 64-bit meaningful window.
func (e *ValueEncoder) WorstCaseNextBits() int {
	if e.n == 0 {
		return 64
	}

	return 1 + 1 + 5 + 6 + 64
}

// Bytes returns the packed bytes. Owned by the encoder until Reset or
// Release.
func (e *ValueEncoder) Bytes() []byte { return e.w.Bytes() }

// Release returns the backing buffer to its pool.
func (e *ValueEncoder) Release() { e.w.Release() }

// ValueDecoder decodes a stream written by ValueEncoder.
type ValueDecoder struct {
	r *bitio.Reader

	prevValue     uint64
	prevLeading   int
	prevTrailing  int
	prevBlockSize int
	n             int
	want          int
}

// NewValueDecoder returns a decoder over data that will yield count
// values.
func NewValueDecoder(data []byte, count int) *ValueDecoder {
	return &ValueDecoder{r: bitio.NewReader(data), want: count}
}

// Next returns the next value. ok is false once count values have been
// read or the stream is truncated.
func (d *ValueDecoder) Next() (v float64, ok bool) {
	if d.n >= d.want {
		return 0, false
	}

	if d.n == 0 {
		raw, ok := d.r.ReadBits(64)
		if !ok {
			return 0, false
		}
		d.prevValue = raw
		d.n++

		return math.Float64frombits(raw), true
	}

	xorBit, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if xorBit == 0 {
		d.n++

		return math.Float64frombits(d.prevValue), true
	}

	sameBlock, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}

	var xor uint64
	if sameBlock == 0 {
		if d.prevBlockSize == 0 {
			return 0, false
		}
		meaningful, ok := d.r.ReadBits(d.prevBlockSize)
		if !ok {
			return 0, false
		}
		xor = meaningful << d.prevTrailing
	} else {
		leading, ok := d.r.ReadBits(5)
		if !ok {
			return 0, false
		}
		blockSizeMinus1, ok := d.r.ReadBits(6)
		if !ok {
			return 0, false
		}
		blockSize := int(blockSizeMinus1) + 1
		meaningful, ok := d.r.ReadBits(blockSize)
		if !ok {
			return 0, false
		}

		trailing := 64 - int(leading) - blockSize
		xor = meaningful << trailing

		d.prevLeading = int(leading)
		d.prevTrailing = trailing
		d.prevBlockSize = blockSize
	}

	valBits := xor ^ d.prevValue
	d.prevValue = valBits
	d.n++

	return math.Float64frombits(valBits), true
}
