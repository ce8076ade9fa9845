// Package bloom implements a small, zero-copy-friendly bloom filter.
//
// Modeled on influxdata/influxdb's pkg/bloom (chosen there specifically
// to "support zero-copy memory-mapped slices" — the same requirement a
// chunk/page index header has here, since both live inside an mmap'd
// region). That filter hashes with murmur3; this one reuses
// cespare/xxhash/v2, already pulled in for series-id hashing elsewhere
// in this module, instead of adding a second hash dependency for the
// same job.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Filter is a fixed-size bloom filter backed by a byte slice, so it can
// be embedded directly in an on-disk header and read back without
// deserialization.
type Filter struct {
	k    uint64
	b    []byte
	mask uint64
}

// New returns a new Filter sized for m bits (rounded up to a power of
// two) and k hash functions.
func New(m, k uint64) *Filter {
	m = pow2(m)

	return &Filter{
		k:    k,
		b:    make([]byte, m/8),
		mask: m - 1,
	}
}

// NewFromBuffer wraps an existing backing buffer (e.g. a slice into a
// memory-mapped page-index header) as a Filter. The buffer's bit length
// must be a power of two.
func NewFromBuffer(buf []byte, k uint64) (*Filter, error) {
	m := pow2(uint64(len(buf)) * 8)
	if m != uint64(len(buf))*8 {
		return nil, fmt.Errorf("bloom: buffer bit count must be a power of two: %d/%d", len(buf)*8, m)
	}

	return &Filter{k: k, b: buf, mask: m - 1}, nil
}

// Estimate returns the bit count m and hash count k for n elements at
// false-positive rate p.
func Estimate(n uint64, p float64) (m, k uint64) {
	m = uint64(math.Ceil(-1 * float64(n) * math.Log(p) / math.Pow(math.Log(2), 2)))
	k = uint64(math.Ceil(math.Log(2) * float64(m) / float64(n)))
	if k == 0 {
		k = 1
	}

	return m, k
}

// Len returns the number of bits backing the filter.
func (f *Filter) Len() uint { return uint(len(f.b)) * 8 }

// Bytes returns the backing slice (e.g. for writing into a header).
func (f *Filter) Bytes() []byte { return f.b }

// Clone returns an independent copy of f.
func (f *Filter) Clone() *Filter {
	other := &Filter{k: f.k, b: make([]byte, len(f.b)), mask: f.mask}
	copy(other.b, f.b)

	return other
}

// InsertUint64 inserts a uint64 key (a series id or a flag value).
func (f *Filter) InsertUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	f.Insert(buf[:])
}

// ContainsUint64 tests a uint64 key. A false positive is possible; a
// false negative is not.
func (f *Filter) ContainsUint64(v uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return f.Contains(buf[:])
}

// Insert adds a key to the filter.
func (f *Filter) Insert(key []byte) {
	h1, h2 := f.hash(key)
	for i := uint64(0); i < f.k; i++ {
		loc := f.location(h1, h2, i)
		f.b[loc/8] |= 1 << (loc % 8)
	}
}

// Contains reports whether key may be a member of the filter.
func (f *Filter) Contains(key []byte) bool {
	h1, h2 := f.hash(key)
	for i := uint64(0); i < f.k; i++ {
		loc := f.location(h1, h2, i)
		if f.b[loc/8]&(1<<(loc%8)) == 0 {
			return false
		}
	}

	return true
}

// Merge performs an in-place union of other into f. Both filters must
// share the same size and hash count.
func (f *Filter) Merge(other *Filter) error {
	if other == nil {
		return nil
	}
	if len(f.b) != len(other.b) {
		return fmt.Errorf("bloom: size mismatch: %d <> %d", len(f.b), len(other.b))
	}
	if f.k != other.k {
		return fmt.Errorf("bloom: k mismatch: %d <> %d", f.k, other.k)
	}

	for i := range f.b {
		f.b[i] |= other.b[i]
	}

	return nil
}

// location computes the ith bit position from the two base hashes using
// Kirsch-Mitzenmacher double hashing.
func (f *Filter) location(h1, h2 uint64, i uint64) uint64 {
	return (h1 + i*h2) & f.mask
}

// hash derives two independent-enough hash values from a single
// xxhash64 digest by hashing the key twice with a salted suffix.
func (f *Filter) hash(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)

	d := xxhash.New()
	d.Write(key)       //nolint:errcheck // xxhash.Digest.Write never fails
	d.Write([]byte{1}) //nolint:errcheck
	h2 = d.Sum64()

	return h1, h2
}

func pow2(v uint64) uint64 {
	for i := uint64(8); i < 1<<62; i *= 2 {
		if i >= v {
			return i
		}
	}

	panic("bloom: unreachable")
}
