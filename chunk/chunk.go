// Package chunk implements the fixed-capacity compressed measurement
// container described by the page and memory tiers: a codec.Writer
// plus a header tracking first/last measurement, min/max time and id,
// per-chunk Bloom filters, and a CRC-32 sealed on close.
package chunk

import (
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/codec"
	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/internal/bloom"
	"github.com/chronoflux/tsengine/meas"
)

// defaultBloomBits/defaultBloomK size each chunk's id and flag Bloom
// filters; a chunk's capacity is small (hundreds to low thousands of
// measurements) so a modest fixed size keeps the false-positive rate
// low without per-chunk sizing math.
const (
	defaultBloomBits = 1 << 12
	defaultBloomK    = 4
)

// Chunk is a single fixed-capacity, append-only measurement buffer.
// Writers are single-threaded; once ReadOnly is true the buffer and
// every header field are immutable and safe for concurrent readers.
type Chunk struct {
	w *codec.Writer

	first meas.Meas
	last  meas.Meas

	minTime meas.Time
	maxTime meas.Time
	minId   meas.Id
	maxId   meas.Id
	count   int

	idBloom   *bloom.Filter
	flagBloom *bloom.Filter

	readOnly bool
	crc      uint32

	streams codec.Streams
}

// New returns an empty Chunk able to hold up to capacity measurements,
// sealing early if maxBytes is positive and the packed streams would
// otherwise outgrow it. Pass maxBytes <= 0 for a count-only bound.
func New(capacity, maxBytes int) *Chunk {
	return &Chunk{
		w:         codec.NewWriter(capacity, maxBytes),
		idBloom:   bloom.New(defaultBloomBits, defaultBloomK),
		flagBloom: bloom.New(defaultBloomBits, defaultBloomK),
	}
}

// Append adds m to the chunk. It returns false once the chunk has
// reached capacity; at that point the chunk has been sealed (ReadOnly
// is now true) and the caller must roll a new chunk.
func (c *Chunk) Append(m meas.Meas) bool {
	if c.readOnly {
		return false
	}

	if !c.w.Append(m) {
		c.seal()

		return false
	}

	if c.count == 0 {
		c.first = m
		c.minTime, c.maxTime = m.Time, m.Time
		c.minId, c.maxId = m.Id, m.Id
	} else {
		if m.Time < c.minTime {
			c.minTime = m.Time
		}
		if m.Time > c.maxTime {
			c.maxTime = m.Time
		}
		if m.Id < c.minId {
			c.minId = m.Id
		}
		if m.Id > c.maxId {
			c.maxId = m.Id
		}
	}

	c.last = m
	c.count++
	c.idBloom.InsertUint64(m.Id)
	c.flagBloom.InsertUint64(uint64(m.Flag))

	if c.w.Full() {
		c.seal()
	}

	return true
}

// seal flushes the codec streams, computes the CRC-32 and marks the
// chunk readonly. It is idempotent.
func (c *Chunk) seal() {
	if c.readOnly {
		return
	}

	c.streams = c.w.Finish()
	c.w.Release()
	c.crc = checksum(c.streams)
	c.readOnly = true
}

// Seal forces the chunk closed even if it has not reached capacity
// (e.g. the memory tier flushing a partial set past the late-arrival
// window).
func (c *Chunk) Seal() {
	c.seal()
}

// ReadOnly reports whether the chunk has been sealed.
func (c *Chunk) ReadOnly() bool { return c.readOnly }

// Count returns the number of measurements in the chunk.
func (c *Chunk) Count() int { return c.count }

// First and Last return the chunk's first and last measurement.
func (c *Chunk) First() meas.Meas { return c.first }
func (c *Chunk) Last() meas.Meas  { return c.last }

// MinTime, MaxTime, MinId, MaxId return the chunk's summary statistics.
func (c *Chunk) MinTime() meas.Time { return c.minTime }
func (c *Chunk) MaxTime() meas.Time { return c.maxTime }
func (c *Chunk) MinId() meas.Id     { return c.minId }
func (c *Chunk) MaxId() meas.Id     { return c.maxId }

// CRC returns the sealed chunk's checksum. It is only meaningful once
// ReadOnly is true.
func (c *Chunk) CRC() uint32 { return c.crc }

// CheckID reports whether id may be present: a cheap range check
// followed by a Bloom test.
func (c *Chunk) CheckID(id meas.Id) bool {
	if id < c.minId || id > c.maxId {
		return false
	}

	return c.idBloom.ContainsUint64(id)
}

// CheckFlag reports whether flag may be present. A mask of 0 matches
// every chunk.
func (c *Chunk) CheckFlag(flag uint32) bool {
	if flag == 0 {
		return true
	}

	return c.flagBloom.ContainsUint64(uint64(flag))
}

// VerifyChecksum recomputes the CRC over the packed streams and
// compares it against the stored value. It is used on chunk open from
// disk.
func (c *Chunk) VerifyChecksum() error {
	if checksum(c.streams) != c.crc {
		return errors.Wrap(errs.ErrChecksum, "chunk crc mismatch")
	}

	return nil
}

// Reader returns a forward-only, restartable sequence over the chunk's
// measurements. The chunk must be sealed.
func (c *Chunk) Reader() *codec.Reader {
	return codec.NewReader(c.streams)
}

// Streams exposes the packed byte streams for serialization (page/WAL
// writers).
func (c *Chunk) Streams() codec.Streams { return c.streams }

// IdBloom and FlagBloom expose the chunk's Bloom filters, e.g. for
// union into a page index header.
func (c *Chunk) IdBloom() *bloom.Filter   { return c.idBloom }
func (c *Chunk) FlagBloom() *bloom.Filter { return c.flagBloom }

func checksum(s codec.Streams) uint32 {
	h := crc32.NewIEEE()
	h.Write(s.Time)  //nolint:errcheck // hash.Hash.Write never fails
	h.Write(s.Value) //nolint:errcheck
	h.Write(s.Flag)  //nolint:errcheck
	h.Write(s.Id)    //nolint:errcheck

	return h.Sum32()
}

// FromStreams reconstructs a sealed, readonly Chunk from previously
// packed streams and header fields, as read back from a page file.
func FromStreams(streams codec.Streams, first, last meas.Meas, minTime, maxTime meas.Time, minId, maxId meas.Id, idBloom, flagBloom *bloom.Filter, crc uint32) *Chunk {
	return &Chunk{
		streams:   streams,
		first:     first,
		last:      last,
		minTime:   minTime,
		maxTime:   maxTime,
		minId:     minId,
		maxId:     maxId,
		count:     streams.Count,
		idBloom:   idBloom,
		flagBloom: flagBloom,
		readOnly:  true,
		crc:       crc,
	}
}
