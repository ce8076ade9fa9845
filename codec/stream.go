package codec

import "github.com/chronoflux/tsengine/meas"

// byteAlignMargin covers the rounding each of the four streams can add
// when its pending bits are flushed out to a whole byte: up to one
// extra byte per stream.
const byteAlignMargin = 4

// Writer packs a sequence of measurements into the four parallel
// streams (time, value, flag, id) that make up a chunk's payload.
// Append returns false once maxCount has been reached or once the next
// record could push the packed streams past maxBytes; the caller rolls
// a new chunk and retries there. The byte check runs before any stream
// is touched, since none of the four encoders can undo a write once
// made.
type Writer struct {
	time  *TimeEncoder
	value *ValueEncoder
	flag  *Uint32RLEEncoder
	id    *Uint64RLEEncoder

	maxCount int
	maxBytes int
	n        int
}

// NewWriter returns a Writer that accepts up to maxCount measurements
// and, once maxBytes is positive, seals early rather than let the four
// packed streams grow past that many bytes combined. maxBytes <= 0
// disables the byte check, leaving the writer count-bounded only.
func NewWriter(maxCount, maxBytes int) *Writer {
	return &Writer{
		time:     NewTimeEncoder(),
		value:    NewValueEncoder(),
		flag:     NewUint32RLEEncoder(),
		id:       NewUint64RLEEncoder(),
		maxCount: maxCount,
		maxBytes: maxBytes,
	}
}

// wouldOverflow reports whether appending one more record could push
// the combined packed streams past maxBytes, using each encoder's
// worst-case cost for its next write plus a fixed byte-alignment
// margin. It is deliberately pessimistic: a false positive just rolls
// the chunk a little early, while a false negative would reopen the
// data-loss path this check exists to close.
func (w *Writer) wouldOverflow() bool {
	if w.maxBytes <= 0 {
		return false
	}

	curBits := w.time.BitLen() + w.value.BitLen() + w.flag.BitLen() + w.id.BitLen()
	nextBits := w.time.WorstCaseNextBits() + w.value.WorstCaseNextBits() + w.flag.WorstCaseNextBits() + w.id.WorstCaseNextBits()
	nextBytes := (curBits+nextBits+7)/8 + byteAlignMargin

	return nextBytes > w.maxBytes
}

// Append adds m to the four streams. It returns false without writing
// anything if the chunk is already at maxCount or if the record would
// not fit within maxBytes.
func (w *Writer) Append(m meas.Meas) bool {
	if w.n >= w.maxCount {
		return false
	}
	if w.wouldOverflow() {
		return false
	}

	w.time.Append(m.Time)
	w.value.Append(m.Value)
	w.flag.Append(m.Flag)
	w.id.Append(m.Id)
	w.n++

	return true
}

// Len returns the number of measurements written so far.
func (w *Writer) Len() int { return w.n }

// Full reports whether the writer has reached maxCount or is within
// one worst-case record of maxBytes.
func (w *Writer) Full() bool { return w.n >= w.maxCount || w.wouldOverflow() }

// Streams holds the four independently-packed byte slices plus the
// element count needed to decode them again.
type Streams struct {
	Count int
	Time  []byte
	Value []byte
	Flag  []byte
	Id    []byte
}

// Finish flushes the four streams and returns their packed bytes. Each
// slice is a defensive copy so the writer can be reset or released
// afterwards.
func (w *Writer) Finish() Streams {
	out := Streams{
		Count: w.n,
		Time:  cloneBytes(w.time.Bytes()),
		Value: cloneBytes(w.value.Bytes()),
		Flag:  cloneBytes(w.flag.Bytes()),
		Id:    cloneBytes(w.id.Bytes()),
	}

	return out
}

// Release returns every stream's backing buffer to its pool. The
// writer must not be used afterwards.
func (w *Writer) Release() {
	w.time.Release()
	w.value.Release()
	w.flag.Release()
	w.id.Release()
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// Reader replays a Streams payload back into measurements, one at a
// time, forward-only.
type Reader struct {
	time  *TimeDecoder
	value *ValueDecoder
	flag  *Uint32RLEDecoder
	id    *Uint64RLEDecoder
}

// NewReader returns a Reader over a previously packed Streams value.
func NewReader(s Streams) *Reader {
	return &Reader{
		time:  NewTimeDecoder(s.Time, s.Count),
		value: NewValueDecoder(s.Value, s.Count),
		flag:  NewUint32RLEDecoder(s.Flag, s.Count),
		id:    NewUint64RLEDecoder(s.Id, s.Count),
	}
}

// Next returns the next measurement in the chunk. ok is false once
// every measurement has been read or a stream is truncated/corrupt.
func (r *Reader) Next() (m meas.Meas, ok bool) {
	t, ok := r.time.Next()
	if !ok {
		return meas.Meas{}, false
	}
	v, ok := r.value.Next()
	if !ok {
		return meas.Meas{}, false
	}
	flag, ok := r.flag.Next()
	if !ok {
		return meas.Meas{}, false
	}
	id, ok := r.id.Next()
	if !ok {
		return meas.Meas{}, false
	}

	return meas.Meas{Id: id, Time: t, Value: v, Flag: flag}, true
}

// All drains the reader into a slice, mainly useful for tests.
func (r *Reader) All() []meas.Meas {
	out := make([]meas.Meas, 0)
	for {
		m, ok := r.Next()
		if !ok {
			break
		}
		out = append(out, m)
	}

	return out
}
