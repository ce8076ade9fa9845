package pagefile

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/chunk"
	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/format"
	"github.com/chronoflux/tsengine/internal/bloom"
	"github.com/chronoflux/tsengine/meas"
)

// slotSize is the fixed on-disk footprint of one chunk: its index
// record copy plus its payload buffer.
func slotSize(chunkSize int) int64 {
	return int64(chunkIndexRecordSize + chunkSize)
}

// Writer builds a single page file and its sidecar index. Writers are
// exclusive and used only by the Dropper; once Close returns, the page
// is immutable and must be reopened with Open for reading.
type Writer struct {
	pagePath  string
	indexPath string

	file *os.File

	header      pageHeader
	records     []chunkIndexRecord
	idBloom     *bloom.Filter
	compression format.CompressionType
	closed      bool
}

// Create starts a new page able to hold up to maxChunks chunks of up
// to chunkCapacity measurements each, with chunkSize bytes reserved
// per chunk payload, compressed with ct. base is extended with .page
// and .pagei.
func Create(base string, chunkCapacity, chunkSize, maxChunks int, ct format.CompressionType) (*Writer, error) {
	pagePath := base + ".page"

	f, err := os.OpenFile(pagePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "pagefile: create page")
	}

	w := &Writer{
		pagePath:    pagePath,
		indexPath:   base + ".pagei",
		file:        f,
		compression: ct,
		header: pageHeader{
			chunkCapacity: uint32(chunkCapacity),
			chunkSize:     uint32(chunkSize),
			maxChunks:     uint32(maxChunks),
			writeCursor:   pageHeaderSize,
			minTime:       uint64(meas.MaxTime),
			maxTime:       0,
		},
		idBloom: newIDBloom(),
	}

	if _, err := f.WriteAt(w.header.encode(), 0); err != nil {
		f.Close()

		return nil, errors.Wrap(err, "pagefile: write page header")
	}

	return w, nil
}

// AppendBatch writes batch, already sorted by (id, time), into as many
// chunks as fit. It returns the number of measurements written; the
// remainder (if any) must go to a new page. errs.ErrFull is returned
// (with the partial count) once the page cannot start another chunk.
func (w *Writer) AppendBatch(batch []meas.Meas) (int, error) {
	written := 0

	for written < len(batch) {
		if w.header.addedChunks >= w.header.maxChunks {
			w.header.isFull = true

			return written, errors.Wrap(errs.ErrFull, "pagefile: page is full")
		}

		c := chunk.New(int(w.header.chunkCapacity), maxPackedBytes(int(w.header.chunkSize)))
		start := written
		for written < len(batch) && c.Append(batch[written]) {
			written++
		}
		if !c.ReadOnly() {
			c.Seal()
		}

		if err := w.writeChunk(c); err != nil {
			return start, err
		}
	}

	return written, nil
}

func (w *Writer) writeChunk(c *chunk.Chunk) error {
	streams := c.Streams()

	payload, err := encodePayload(streams, c.CRC(), int(w.header.chunkSize), w.compression)
	if err != nil {
		return err
	}

	rec := chunkIndexRecord{
		offset:    w.header.writeCursor + uint64(chunkIndexRecordSize),
		chunkID:   w.header.maxChunkID,
		minTime:   uint64(c.MinTime()),
		maxTime:   uint64(c.MaxTime()),
		minID:     c.MinId(),
		maxID:     c.MaxId(),
		count:     uint32(c.Count()),
		idBloom:   c.IdBloom().Bytes(),
		flagBloom: c.FlagBloom().Bytes(),
		init:      true,
	}

	if _, err := w.file.WriteAt(rec.encode(), int64(w.header.writeCursor)); err != nil {
		return errors.Wrap(err, "pagefile: write chunk index record")
	}
	if _, err := w.file.WriteAt(payload, int64(rec.offset)); err != nil {
		return errors.Wrap(err, "pagefile: write chunk payload")
	}

	_ = w.idBloom.Merge(c.IdBloom())

	w.header.writeCursor += uint64(slotSize(int(w.header.chunkSize)))
	w.header.addedChunks++
	w.header.maxChunkID++
	if uint64(c.MinTime()) < w.header.minTime {
		w.header.minTime = uint64(c.MinTime())
	}
	if uint64(c.MaxTime()) > w.header.maxTime {
		w.header.maxTime = uint64(c.MaxTime())
	}

	w.records = append(w.records, rec)

	return nil
}

// Close finalizes the page: it rewrites the page header with final
// stats, writes the sidecar index sorted by maxTime ascending, and
// fsyncs both files.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.file.WriteAt(w.header.encode(), 0); err != nil {
		w.file.Close()

		return errors.Wrap(err, "pagefile: rewrite page header")
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()

		return errors.Wrap(err, "pagefile: sync page")
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "pagefile: close page")
	}

	sorted := make([]chunkIndexRecord, len(w.records))
	copy(sorted, w.records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].maxTime < sorted[j].maxTime })

	return w.writeIndex(sorted)
}

func (w *Writer) writeIndex(sorted []chunkIndexRecord) error {
	f, err := os.OpenFile(w.indexPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "pagefile: create index")
	}
	defer f.Close()

	ih := pageiHeader{
		minTime:       w.header.minTime,
		maxTime:       w.header.maxTime,
		idBloom:       w.idBloom.Bytes(),
		chunkCount:    uint32(len(sorted)),
		chunkCapacity: w.header.chunkCapacity,
		chunkSize:     w.header.chunkSize,
		isSorted:      true,
	}

	if _, err := f.Write(ih.encode()); err != nil {
		return errors.Wrap(err, "pagefile: write index header")
	}

	for _, rec := range sorted {
		if _, err := f.Write(rec.encode()); err != nil {
			return errors.Wrap(err, "pagefile: write index record")
		}
	}

	return f.Sync()
}

// PagePath and IndexPath return the writer's two on-disk paths.
func (w *Writer) PagePath() string  { return w.pagePath }
func (w *Writer) IndexPath() string { return w.indexPath }

// Full reports whether the page has reached maxChunks.
func (w *Writer) Full() bool { return w.header.addedChunks >= w.header.maxChunks }
