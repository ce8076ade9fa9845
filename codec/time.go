// Package codec implements the four per-chunk bit streams described in
// the measurement compression scheme: delta-of-delta timestamps, XOR'd
// float64 values, and run-length-coded flag/id streams. Every stream
// writes to and reads from an internal/bitio accumulator so the four
// encoders share one bit-packing primitive.
package codec

import "github.com/chronoflux/tsengine/internal/bitio"

// bucket widths for the delta-of-delta timestamp scheme. A zero delta
// costs a single bit; everything else costs a tag plus a payload sized
// to the smallest bucket it fits in, falling back to a raw 32-bit
// two's-complement delta for outliers.
const (
	tagZero   = 0 // prefix "0"
	tagSmall  = 1 // prefix "10",   7-bit payload, bias 63
	tagMedium = 2 // prefix "110",  9-bit payload, bias 255
	tagLarge  = 3 // prefix "1110", 12-bit payload, bias 2047
	tagHuge   = 4 // prefix "1111", 32-bit raw payload
)

const (
	smallBias  = 63
	mediumBias = 255
	largeBias  = 2047

	smallMin, smallMax   = -63, 64
	mediumMin, mediumMax = -255, 256
	largeMin, largeMax   = -2047, 2048
)

// TimeEncoder packs a timestamp sequence as delta-of-deltas using the
// bucketed bit-width scheme.
type TimeEncoder struct {
	w *bitio.Writer

	n       int
	first   uint64
	prev    uint64
	prevDod int64
}

// NewTimeEncoder returns an empty TimeEncoder.
func NewTimeEncoder() *TimeEncoder {
	return &TimeEncoder{w: bitio.NewWriter()}
}

// Reset clears the encoder so it can be reused for a new chunk.
func (e *TimeEncoder) Reset() {
	e.w.Reset()
	e.n = 0
	e.first = 0
	e.prev = 0
	e.prevDod = 0
}

// Append adds the next timestamp. Neither Append nor the chunk writer
// checks ordering; a step backwards is encoded as a negative delta.
func (e *TimeEncoder) Append(t uint64) {
	switch e.n {
	case 0:
		e.w.WriteBits(t, 64)
	case 1:
		delta := int64(t - e.prev)
		e.w.WriteBits(zigzag(delta), 64)
		e.prevDod = delta
	default:
		delta := int64(t - e.prev)
		dod := delta - e.prevDod
		e.writeDod(dod)
		e.prevDod = delta
	}

	if e.n == 0 {
		e.first = t
	}
	e.prev = t
	e.n++
}

func (e *TimeEncoder) writeDod(dod int64) {
	switch {
	case dod == 0:
		e.w.WriteBits(tagZero, 1)
	case dod >= smallMin && dod <= smallMax:
		e.w.WriteBits(0b10, 2)
		e.w.WriteBits(uint64(dod+smallBias), 7)
	case dod >= mediumMin && dod <= mediumMax:
		e.w.WriteBits(0b110, 3)
		e.w.WriteBits(uint64(dod+mediumBias), 9)
	case dod >= largeMin && dod <= largeMax:
		e.w.WriteBits(0b1110, 4)
		e.w.WriteBits(uint64(dod+largeBias), 12)
	default:
		e.w.WriteBits(0b1111, 4)
		e.w.WriteBits(uint64(uint32(dod)), 32)
	}
}

// Len reports the number of timestamps appended so far.
func (e *TimeEncoder) Len() int { return e.n }

// BitLen reports the total number of bits written so far.
func (e *TimeEncoder) BitLen() int { return e.w.BitLen() }

// WorstCaseNextBits returns the most bits the next Append could cost,
// used to decide whether a chunk's byte budget has room for one more
// record before actually committing it to the stream. The first two
// timestamps cost a raw 64-bit write each; every later one falls back
// to at most tagHuge (4-bit tag plus a raw 32-bit delta).
func (e *TimeEncoder) WorstCaseNextBits() int {
	if e.n < 2 {
		return 64
	}

	return 36
}

// Bytes returns the packed byte representation. The slice is owned by
// the encoder and is only valid until Reset or Release.
func (e *TimeEncoder) Bytes() []byte { return e.w.Bytes() }

// Release returns the encoder's backing buffer to its pool.
func (e *TimeEncoder) Release() { e.w.Release() }

// TimeDecoder decodes a stream written by TimeEncoder.
type TimeDecoder struct {
	r       *bitio.Reader
	n       int
	want    int
	prev    uint64
	prevDod int64
}

// NewTimeDecoder returns a decoder over data that will yield count
// timestamps.
func NewTimeDecoder(data []byte, count int) *TimeDecoder {
	return &TimeDecoder{r: bitio.NewReader(data), want: count}
}

// Next returns the next timestamp in the stream. ok is false once count
// values have been read.
func (d *TimeDecoder) Next() (t uint64, ok bool) {
	if d.n >= d.want {
		return 0, false
	}

	switch d.n {
	case 0:
		v, ok := d.r.ReadBits(64)
		if !ok {
			return 0, false
		}
		d.prev = v
		t = v
	case 1:
		v, ok := d.r.ReadBits(64)
		if !ok {
			return 0, false
		}
		delta := unzigzag(v)
		t = d.prev + uint64(delta)
		d.prevDod = delta
		d.prev = t
	default:
		dod, ok := d.readDod()
		if !ok {
			return 0, false
		}
		delta := d.prevDod + dod
		t = d.prev + uint64(delta)
		d.prevDod = delta
		d.prev = t
	}

	d.n++

	return t, true
}

func (d *TimeDecoder) readDod() (int64, bool) {
	bit, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if bit == 0 {
		return 0, true
	}

	bit, ok = d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if bit == 0 {
		v, ok := d.r.ReadBits(7)
		if !ok {
			return 0, false
		}
		return int64(v) - smallBias, true
	}

	bit, ok = d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if bit == 0 {
		v, ok := d.r.ReadBits(9)
		if !ok {
			return 0, false
		}
		return int64(v) - mediumBias, true
	}

	bit, ok = d.r.ReadBit()
	if !ok {
		return 0, false
	}
	if bit == 0 {
		v, ok := d.r.ReadBits(12)
		if !ok {
			return 0, false
		}
		return int64(v) - largeBias, true
	}

	v, ok := d.r.ReadBits(32)
	if !ok {
		return 0, false
	}

	return int64(int32(uint32(v))), true
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
