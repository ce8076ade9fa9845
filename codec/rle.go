package codec

import "github.com/chronoflux/tsengine/internal/bitio"

// Uint32RLEEncoder packs a uint32 sequence with single-bit run-length
// coding: a 0 bit means "same as the previous value", a 1 bit means
// "changed" and is followed by the new value spelled out in full. It
// backs the flag stream; the id stream uses Uint64RLEEncoder.
type Uint32RLEEncoder struct {
	w    *bitio.Writer
	prev uint32
	n    int
}

// NewUint32RLEEncoder returns an empty encoder.
func NewUint32RLEEncoder() *Uint32RLEEncoder {
	return &Uint32RLEEncoder{w: bitio.NewWriter()}
}

// Reset clears the encoder for reuse on a new chunk.
func (e *Uint32RLEEncoder) Reset() {
	e.w.Reset()
	e.prev = 0
	e.n = 0
}

// Append adds the next value to the stream.
func (e *Uint32RLEEncoder) Append(v uint32) {
	if e.n > 0 && v == e.prev {
		e.w.WriteBit(0)
	} else {
		e.w.WriteBit(1)
		e.w.WriteBits(uint64(v), 32)
	}

	e.prev = v
	e.n++
}

// Len returns the number of values appended so far.
func (e *Uint32RLEEncoder) Len() int { return e.n }

// BitLen reports the total number of bits written so far.
func (e *Uint32RLEEncoder) BitLen() int { return e.w.BitLen() }

// WorstCaseNextBits returns the most bits the next Append could cost:
// the changed case, a 1-bit tag plus the full 32-bit value.
func (e *Uint32RLEEncoder) WorstCaseNextBits() int { return 1 + 32 }

// Bytes returns the packed bytes, owned by the encoder until Reset or
// Release.
func (e *Uint32RLEEncoder) Bytes() []byte { return e.w.Bytes() }

// Release returns the backing buffer to its pool.
func (e *Uint32RLEEncoder) Release() { e.w.Release() }

// Uint32RLEDecoder decodes a stream written by Uint32RLEEncoder.
type Uint32RLEDecoder struct {
	r    *bitio.Reader
	prev uint32
	n    int
	want int
}

// NewUint32RLEDecoder returns a decoder over data that will yield count
// values.
func NewUint32RLEDecoder(data []byte, count int) *Uint32RLEDecoder {
	return &Uint32RLEDecoder{r: bitio.NewReader(data), want: count}
}

// Next returns the next value. ok is false once count values have been
// read or the stream is truncated.
func (d *Uint32RLEDecoder) Next() (v uint32, ok bool) {
	if d.n >= d.want {
		return 0, false
	}

	changed, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}

	if changed == 0 {
		if d.n == 0 {
			return 0, false
		}
		v = d.prev
	} else {
		raw, ok := d.r.ReadBits(32)
		if !ok {
			return 0, false
		}
		v = uint32(raw)
	}

	d.prev = v
	d.n++

	return v, true
}

// Uint64RLEEncoder packs a uint64 sequence (series ids) with the same
// single-bit run-length scheme as Uint32RLEEncoder, spelling out a
// changed value as one 64-bit field after the same 1-bit tag.
type Uint64RLEEncoder struct {
	w    *bitio.Writer
	prev uint64
	n    int
}

// NewUint64RLEEncoder returns an empty encoder.
func NewUint64RLEEncoder() *Uint64RLEEncoder {
	return &Uint64RLEEncoder{w: bitio.NewWriter()}
}

// Reset clears the encoder for reuse on a new chunk.
func (e *Uint64RLEEncoder) Reset() {
	e.w.Reset()
	e.prev = 0
	e.n = 0
}

// Append adds the next id to the stream.
func (e *Uint64RLEEncoder) Append(v uint64) {
	if e.n > 0 && v == e.prev {
		e.w.WriteBit(0)
	} else {
		e.w.WriteBit(1)
		e.w.WriteBits(v, 64)
	}

	e.prev = v
	e.n++
}

// Len returns the number of ids appended so far.
func (e *Uint64RLEEncoder) Len() int { return e.n }

// BitLen reports the total number of bits written so far.
func (e *Uint64RLEEncoder) BitLen() int { return e.w.BitLen() }

// WorstCaseNextBits returns the most bits the next Append could cost:
// the changed case, a 1-bit tag plus the full 64-bit value.
func (e *Uint64RLEEncoder) WorstCaseNextBits() int { return 1 + 64 }

// Bytes returns the packed bytes, owned by the encoder until Reset or
// Release.
func (e *Uint64RLEEncoder) Bytes() []byte { return e.w.Bytes() }

// Release returns the backing buffer to its pool.
func (e *Uint64RLEEncoder) Release() { e.w.Release() }

// Uint64RLEDecoder decodes a stream written by Uint64RLEEncoder.
type Uint64RLEDecoder struct {
	r    *bitio.Reader
	prev uint64
	n    int
	want int
}

// NewUint64RLEDecoder returns a decoder over data that will yield count
// ids.
func NewUint64RLEDecoder(data []byte, count int) *Uint64RLEDecoder {
	return &Uint64RLEDecoder{r: bitio.NewReader(data), want: count}
}

// Next returns the next id. ok is false once count ids have been read
// or the stream is truncated.
func (d *Uint64RLEDecoder) Next() (v uint64, ok bool) {
	if d.n >= d.want {
		return 0, false
	}

	changed, ok := d.r.ReadBit()
	if !ok {
		return 0, false
	}

	if changed == 0 {
		if d.n == 0 {
			return 0, false
		}
		v = d.prev
	} else {
		raw, ok := d.r.ReadBits(64)
		if !ok {
			return 0, false
		}
		v = raw
	}

	d.prev = v
	d.n++

	return v, true
}
