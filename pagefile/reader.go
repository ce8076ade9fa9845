package pagefile

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/chunk"
	"github.com/chronoflux/tsengine/codec"
	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/internal/bloom"
	"github.com/chronoflux/tsengine/meas"
)

// ChunkLink is an opaque reference to one chunk inside an open page,
// returned by ChunksByInterval and consumed by ReadLinks. It carries
// no pointer into the mapping itself so it stays valid across calls.
type ChunkLink struct {
	index int
}

// Reader is a page opened read-only over memory-mapped `.page` and
// `.pagei` files. Reads are lock-free against the mapped bytes; the
// page must not be closed while any caller still holds a ChunkLink
// into it, which is why the engine always resolves links through the
// page cache rather than holding a Reader directly.
type Reader struct {
	pagePath  string
	indexPath string

	pageFile  *os.File
	indexFile *os.File

	pageData  []byte
	indexData []byte

	header  pageHeader
	iheader pageiHeader
	records []chunkIndexRecord
	idBloom *bloom.Filter
}

// Open memory-maps the page and its index and parses both headers and
// the full chunk-index array.
func Open(base string) (*Reader, error) {
	r := &Reader{pagePath: base + ".page", indexPath: base + ".pagei"}

	var err error
	r.pageFile, err = os.Open(r.pagePath)
	if err != nil {
		return nil, errors.Wrap(err, "pagefile: open page")
	}
	r.indexFile, err = os.Open(r.indexPath)
	if err != nil {
		r.pageFile.Close()

		return nil, errors.Wrap(err, "pagefile: open index")
	}

	r.pageData, err = mmapFile(r.pageFile)
	if err != nil {
		r.Close()

		return nil, errors.Wrap(err, "pagefile: mmap page")
	}
	r.indexData, err = mmapFile(r.indexFile)
	if err != nil {
		r.Close()

		return nil, errors.Wrap(err, "pagefile: mmap index")
	}

	if r.header, err = decodePageHeader(r.pageData); err != nil {
		r.Close()

		return nil, err
	}
	if r.iheader, err = decodePageiHeader(r.indexData); err != nil {
		r.Close()

		return nil, err
	}

	filter, err := bloom.NewFromBuffer(cloneSlice(r.iheader.idBloom), bloomK)
	if err != nil {
		r.Close()

		return nil, errors.Wrap(errs.ErrCorruption, "pagefile: bad index bloom")
	}
	r.idBloom = filter

	r.records = make([]chunkIndexRecord, 0, r.iheader.chunkCount)
	off := pageiHeaderSize
	for i := uint32(0); i < r.iheader.chunkCount; i++ {
		end := off + chunkIndexRecordSize
		if end > len(r.indexData) {
			r.Close()

			return nil, errors.Wrap(errs.ErrCorruption, "pagefile: truncated index array")
		}
		r.records = append(r.records, decodeChunkIndexRecord(r.indexData[off:end]))
		off = end
	}

	return r, nil
}

// Close unmaps both files. Close must not be called while any
// ChunkLink obtained from this Reader is still outstanding.
func (r *Reader) Close() error {
	var err error
	if r.pageData != nil {
		if e := munmapFile(r.pageData); e != nil {
			err = e
		}
		r.pageData = nil
	}
	if r.indexData != nil {
		if e := munmapFile(r.indexData); e != nil {
			err = e
		}
		r.indexData = nil
	}
	if r.pageFile != nil {
		r.pageFile.Close()
	}
	if r.indexFile != nil {
		r.indexFile.Close()
	}

	return err
}

// MinTime and MaxTime return the page's observed time bounds.
func (r *Reader) MinTime() meas.Time { return meas.Time(r.iheader.minTime) }
func (r *Reader) MaxTime() meas.Time { return meas.Time(r.iheader.maxTime) }

// CheckID tests the page-level id Bloom (the union of every chunk's).
func (r *Reader) CheckID(id meas.Id) bool { return r.idBloom.ContainsUint64(id) }

// ChunksByInterval prefilters the index for chunks whose id Bloom and
// time range might overlap q.
func (r *Reader) ChunksByInterval(q meas.IntervalQuery) []ChunkLink {
	out := make([]ChunkLink, 0)
	for i, rec := range r.records {
		if meas.Time(rec.maxTime) < q.From || meas.Time(rec.minTime) >= q.To {
			continue
		}
		if len(q.Ids) > 0 && !r.chunkMayContainAny(rec, q.Ids) {
			continue
		}
		out = append(out, ChunkLink{index: i})
	}

	return out
}

func (r *Reader) chunkMayContainAny(rec chunkIndexRecord, ids meas.IdSet) bool {
	filter, err := bloom.NewFromBuffer(rec.idBloom, bloomK)
	if err != nil {
		return true // corrupt per-chunk bloom: don't risk a false negative
	}

	for id := range ids {
		if id < meas.Id(rec.minID) || id > meas.Id(rec.maxID) {
			continue
		}
		if filter.ContainsUint64(id) {
			return true
		}
	}

	return false
}

// ReadLinks opens every chunk named by links, copying its header and
// buffer out of the mapping (so the data survives the page unmapping
// later), verifies its CRC and streams every matching measurement to
// cb. cb may return false to stop early.
func (r *Reader) ReadLinks(q meas.IntervalQuery, links []ChunkLink, cb func(meas.Meas) bool) error {
	for _, link := range links {
		c, err := r.openChunk(link)
		if err != nil {
			return err
		}

		if err := c.VerifyChecksum(); err != nil {
			return errors.Wrapf(err, "pagefile: chunk %d", link.index)
		}

		reader := c.Reader()
		for {
			m, ok := reader.Next()
			if !ok {
				break
			}
			if m.Time < q.From || m.Time >= q.To {
				continue
			}
			if len(q.Ids) > 0 && !q.Ids.Contains(m.Id) {
				continue
			}
			if !meas.MatchesFlag(q.Flag, m.Flag) {
				continue
			}
			if !cb(m) {
				return nil
			}
		}
	}

	return nil
}

// ValuesBeforeTimePoint walks links in reverse maxTime order, stopping
// per id once a matching value at or before q.TimePoint has been found.
func (r *Reader) ValuesBeforeTimePoint(q meas.TimePointQuery, links []ChunkLink) (map[meas.Id]meas.Meas, error) {
	ordered := make([]ChunkLink, len(links))
	copy(ordered, links)
	sort.Slice(ordered, func(i, j int) bool {
		return r.records[ordered[i].index].maxTime > r.records[ordered[j].index].maxTime
	})

	out := make(map[meas.Id]meas.Meas)
	wantAll := len(q.Ids) == 0

	for _, link := range ordered {
		if !wantAll && len(out) >= len(q.Ids) {
			break
		}

		c, err := r.openChunk(link)
		if err != nil {
			return nil, err
		}
		if err := c.VerifyChecksum(); err != nil {
			return nil, errors.Wrapf(err, "pagefile: chunk %d", link.index)
		}

		reader := c.Reader()
		for {
			m, ok := reader.Next()
			if !ok {
				break
			}
			if m.Time > q.TimePoint {
				continue
			}
			if len(q.Ids) > 0 && !q.Ids.Contains(m.Id) {
				continue
			}
			if !meas.MatchesFlag(q.Flag, m.Flag) {
				continue
			}

			if cur, ok := out[m.Id]; !ok || m.Time > cur.Time {
				out[m.Id] = m
			}
		}
	}

	return out, nil
}

func (r *Reader) openChunk(link ChunkLink) (*chunk.Chunk, error) {
	if link.index < 0 || link.index >= len(r.records) {
		return nil, errors.Wrap(errs.ErrNotFound, "pagefile: bad chunk link")
	}
	rec := r.records[link.index]

	start := int(rec.offset)
	end := start + int(r.iheader.chunkSize)
	if end > len(r.pageData) {
		return nil, errors.Wrap(errs.ErrCorruption, "pagefile: chunk payload out of range")
	}

	streams, crc, err := decodePayload(r.pageData[start:end])
	if err != nil {
		return nil, err
	}

	idBloom, err := bloom.NewFromBuffer(cloneSlice(rec.idBloom), bloomK)
	if err != nil {
		return nil, errors.Wrap(errs.ErrCorruption, "pagefile: bad chunk id bloom")
	}
	flagBloom, err := bloom.NewFromBuffer(cloneSlice(rec.flagBloom), bloomK)
	if err != nil {
		return nil, errors.Wrap(errs.ErrCorruption, "pagefile: bad chunk flag bloom")
	}

	first, last := firstLast(streams)

	return chunk.FromStreams(streams, first, last, meas.Time(rec.minTime), meas.Time(rec.maxTime), meas.Id(rec.minID), meas.Id(rec.maxID), idBloom, flagBloom, crc), nil
}

// firstLast decodes a chunk's streams to recover its first and last
// measurement, needed to populate the reconstructed Chunk header.
func firstLast(s codec.Streams) (first, last meas.Meas) {
	reader := codec.NewReader(s)

	i := 0
	for {
		m, ok := reader.Next()
		if !ok {
			break
		}
		if i == 0 {
			first = m
		}
		last = m
		i++
	}

	return first, last
}
