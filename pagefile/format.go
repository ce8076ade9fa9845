// Package pagefile implements the immutable, memory-mapped page tier:
// a `.page` file holding many compressed chunks and a sidecar `.pagei`
// index file with one fixed-size index record per chunk, so a range
// query can prefilter chunks without touching the page body.
package pagefile

import (
	"github.com/chronoflux/tsengine/endian"
	"github.com/chronoflux/tsengine/internal/bloom"
)

var le = endian.GetLittleEndianEngine()

const (
	pageMagic  = 0x50414731 // "PAG1"
	pageiMagic = 0x50414749 // "PAGI"

	bloomBits = 1 << 12
	bloomK    = 4
	bloomSize = bloomBits / 8

	// pageHeaderSize: magic(4) + chunkCapacity(4) + chunkSize(4) +
	// maxChunks(4) + addedChunks(4) + writeCursor(8) + isFull(1) +
	// maxChunkID(8) + minTime(8) + maxTime(8), padded to an 8-byte
	// boundary.
	pageHeaderSize = 56

	// chunkIndexRecordSize: offset(8) + chunkID(8) + minTime(8) +
	// maxTime(8) + minID(8) + maxID(8) + count(4) + idBloom(bloomSize)
	// + flagBloom(bloomSize) + initFlag(1), with no padding.
	chunkIndexRecordSize = 8*6 + 4 + bloomSize*2 + 1

	// pageiHeaderSize: magic(4) + minTime(8) + maxTime(8) +
	// idBloom(bloomSize) + chunkCount(4) + chunkCapacity(4) +
	// chunkSize(4) + isSorted(1).
	pageiHeaderSize = 4 + 8 + 8 + bloomSize + 4 + 4 + 4 + 1
)

// pageHeader mirrors the on-disk page header: chunk capacity, chunk
// size, added chunks, write cursor, is-full flag, max chunk id,
// min/max-time bounds. The open-reader count is transient and lives
// only in the in-process page cache, never on disk.
type pageHeader struct {
	chunkCapacity uint32
	chunkSize     uint32
	maxChunks     uint32
	addedChunks   uint32
	writeCursor   uint64
	isFull        bool
	maxChunkID    uint64
	minTime       uint64
	maxTime       uint64
}

func (h pageHeader) encode() []byte {
	buf := make([]byte, pageHeaderSize)
	le.PutUint32(buf[0:4], pageMagic)
	le.PutUint32(buf[4:8], h.chunkCapacity)
	le.PutUint32(buf[8:12], h.chunkSize)
	le.PutUint32(buf[12:16], h.maxChunks)
	le.PutUint32(buf[16:20], h.addedChunks)
	le.PutUint64(buf[20:28], h.writeCursor)
	if h.isFull {
		buf[28] = 1
	}
	le.PutUint64(buf[32:40], h.maxChunkID)
	le.PutUint64(buf[40:48], h.minTime)
	le.PutUint64(buf[48:56], h.maxTime)

	return buf
}

func decodePageHeader(buf []byte) (pageHeader, error) {
	var h pageHeader
	if len(buf) < pageHeaderSize || le.Uint32(buf[0:4]) != pageMagic {
		return h, errCorruptHeader("page")
	}

	h.chunkCapacity = le.Uint32(buf[4:8])
	h.chunkSize = le.Uint32(buf[8:12])
	h.maxChunks = le.Uint32(buf[12:16])
	h.addedChunks = le.Uint32(buf[16:20])
	h.writeCursor = le.Uint64(buf[20:28])
	h.isFull = buf[28] != 0
	h.maxChunkID = le.Uint64(buf[32:40])
	h.minTime = le.Uint64(buf[40:48])
	h.maxTime = le.Uint64(buf[48:56])

	return h, nil
}

// chunkIndexRecord is the fixed-size record describing one chunk, used
// both as the `.pagei` index array entry and as the copy prefixed to
// the chunk body inside the `.page` file.
type chunkIndexRecord struct {
	offset    uint64
	chunkID   uint64
	minTime   uint64
	maxTime   uint64
	minID     uint64
	maxID     uint64
	count     uint32
	idBloom   []byte
	flagBloom []byte
	init      bool
}

func (r chunkIndexRecord) encode() []byte {
	buf := make([]byte, chunkIndexRecordSize)
	le.PutUint64(buf[0:8], r.offset)
	le.PutUint64(buf[8:16], r.chunkID)
	le.PutUint64(buf[16:24], r.minTime)
	le.PutUint64(buf[24:32], r.maxTime)
	le.PutUint64(buf[32:40], r.minID)
	le.PutUint64(buf[40:48], r.maxID)
	le.PutUint32(buf[48:52], r.count)

	off := 52
	copy(buf[off:off+bloomSize], r.idBloom)
	off += bloomSize
	copy(buf[off:off+bloomSize], r.flagBloom)
	off += bloomSize

	if r.init {
		buf[off] = 1
	}

	return buf
}

func decodeChunkIndexRecord(buf []byte) chunkIndexRecord {
	var r chunkIndexRecord
	r.offset = le.Uint64(buf[0:8])
	r.chunkID = le.Uint64(buf[8:16])
	r.minTime = le.Uint64(buf[16:24])
	r.maxTime = le.Uint64(buf[24:32])
	r.minID = le.Uint64(buf[32:40])
	r.maxID = le.Uint64(buf[40:48])
	r.count = le.Uint32(buf[48:52])

	off := 52
	r.idBloom = append([]byte(nil), buf[off:off+bloomSize]...)
	off += bloomSize
	r.flagBloom = append([]byte(nil), buf[off:off+bloomSize]...)
	off += bloomSize

	r.init = buf[off] != 0

	return r
}

// pageiHeader mirrors the on-disk page-index header.
type pageiHeader struct {
	minTime       uint64
	maxTime       uint64
	idBloom       []byte
	chunkCount    uint32
	chunkCapacity uint32
	chunkSize     uint32
	isSorted      bool
}

func (h pageiHeader) encode() []byte {
	buf := make([]byte, pageiHeaderSize)
	le.PutUint32(buf[0:4], pageiMagic)
	le.PutUint64(buf[4:12], h.minTime)
	le.PutUint64(buf[12:20], h.maxTime)

	off := 20
	copy(buf[off:off+bloomSize], h.idBloom)
	off += bloomSize

	le.PutUint32(buf[off:off+4], h.chunkCount)
	off += 4
	le.PutUint32(buf[off:off+4], h.chunkCapacity)
	off += 4
	le.PutUint32(buf[off:off+4], h.chunkSize)
	off += 4
	if h.isSorted {
		buf[off] = 1
	}

	return buf
}

func decodePageiHeader(buf []byte) (pageiHeader, error) {
	var h pageiHeader
	if len(buf) < pageiHeaderSize || le.Uint32(buf[0:4]) != pageiMagic {
		return h, errCorruptHeader("pagei")
	}

	h.minTime = le.Uint64(buf[4:12])
	h.maxTime = le.Uint64(buf[12:20])

	off := 20
	h.idBloom = append([]byte(nil), buf[off:off+bloomSize]...)
	off += bloomSize

	h.chunkCount = le.Uint32(buf[off : off+4])
	off += 4
	h.chunkCapacity = le.Uint32(buf[off : off+4])
	off += 4
	h.chunkSize = le.Uint32(buf[off : off+4])
	off += 4
	h.isSorted = buf[off] != 0

	return h, nil
}

func newIDBloom() *bloom.Filter   { return bloom.New(bloomBits, bloomK) }
func newFlagBloom() *bloom.Filter { return bloom.New(bloomBits, bloomK) }
