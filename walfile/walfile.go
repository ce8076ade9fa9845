// Package walfile implements the write-ahead-log tier: an append-only
// file of fixed-size measurement records prefixed by a small header
// that carries a series-id Bloom filter and min/max time bounds so a
// whole file can be skipped by a query without a linear scan.
package walfile

import (
	"io"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/endian"
	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/internal/bloom"
	"github.com/chronoflux/tsengine/meas"
)

const (
	magic = 0x57414C31 // "WAL1"

	bloomBits = 1 << 13
	bloomK    = 4
	bloomSize = bloomBits / 8

	// headerSize: magic(4) + minTime(8) + maxTime(8) + idBloom(bloomSize).
	headerSize = 4 + 8 + 8 + bloomSize

	// recordSize: id(8) + time(8) + value(8) + flag(4).
	recordSize = 8 + 8 + 8 + 4
)

var le = endian.GetLittleEndianEngine()

// File is an open WAL file, either being actively appended to or open
// read-only for compaction/recovery scans.
type File struct {
	mu sync.RWMutex

	f    *os.File
	path string

	maxRecords int
	count      int

	minTime meas.Time
	maxTime meas.Time
	idBloom *bloom.Filter

	closed bool
}

// Create makes a new, empty WAL file at path able to hold up to
// maxRecords records, and writes its initial header.
func Create(path string, maxRecords int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "walfile: create")
	}

	wf := &File{
		f:          f,
		path:       path,
		maxRecords: maxRecords,
		minTime:    meas.MaxTime,
		maxTime:    0,
		idBloom:    bloom.New(bloomBits, bloomK),
	}

	if err := wf.writeHeader(); err != nil {
		f.Close()

		return nil, err
	}

	return wf, nil
}

// Open opens an existing WAL file for reading and, if maxRecords > 0,
// further appends. A short trailing partial record -- the writer
// crashed mid-write -- is benign: the file is truncated to its last
// whole record before any record is exposed. DariaDB's WAL never
// actually implemented this truncation, despite needing it.
func Open(path string, maxRecords int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "walfile: open")
	}

	wf := &File{f: f, path: path, maxRecords: maxRecords}

	if err := wf.readHeader(); err != nil {
		f.Close()

		return nil, err
	}

	if err := wf.recoverTruncate(); err != nil {
		f.Close()

		return nil, err
	}

	if err := wf.rescan(); err != nil {
		f.Close()

		return nil, err
	}

	return wf, nil
}

// recoverTruncate drops any trailing partial record left by a crash
// mid-append.
func (f *File) recoverTruncate() error {
	info, err := f.f.Stat()
	if err != nil {
		return errors.Wrap(err, "walfile: stat")
	}

	size := info.Size()
	if size < headerSize {
		return errors.Wrap(errs.ErrCorruption, "walfile: file shorter than header")
	}

	body := size - headerSize
	whole := body - (body % recordSize)
	if whole != body {
		if err := f.f.Truncate(headerSize + whole); err != nil {
			return errors.Wrap(err, "walfile: truncate partial record")
		}
	}

	f.count = int(whole / recordSize)

	return nil
}

// rescan rebuilds the Bloom filter and min/max bounds from the file's
// records. The header's own copies are best-effort (updated per
// append without fsync ordering guarantees against the record body),
// so an authoritative rebuild on open is cheap insurance.
func (f *File) rescan() error {
	records, err := f.readAllLocked()
	if err != nil {
		return err
	}

	if f.idBloom == nil {
		f.idBloom = bloom.New(bloomBits, bloomK)
	}

	f.minTime = meas.MaxTime
	f.maxTime = 0
	for _, m := range records {
		f.idBloom.InsertUint64(m.Id)
		if m.Time < f.minTime {
			f.minTime = m.Time
		}
		if m.Time > f.maxTime {
			f.maxTime = m.Time
		}
	}

	if len(records) == 0 {
		f.minTime = meas.MaxTime
		f.maxTime = 0
	}

	return nil
}

func (f *File) writeHeader() error {
	var hdr [headerSize]byte
	le.PutUint32(hdr[0:4], magic)
	le.PutUint64(hdr[4:12], uint64(f.minTime))
	le.PutUint64(hdr[12:20], uint64(f.maxTime))
	copy(hdr[20:20+bloomSize], f.idBloom.Bytes())

	if _, err := f.f.WriteAt(hdr[:], 0); err != nil {
		return errors.Wrap(err, "walfile: write header")
	}

	return nil
}

func (f *File) readHeader() error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(f.f, 0, headerSize), hdr[:]); err != nil {
		return errors.Wrap(errs.ErrCorruption, "walfile: short header")
	}

	if le.Uint32(hdr[0:4]) != magic {
		return errors.Wrap(errs.ErrCorruption, "walfile: bad magic")
	}

	f.minTime = meas.Time(le.Uint64(hdr[4:12]))
	f.maxTime = meas.Time(le.Uint64(hdr[12:20]))

	bloomBuf := make([]byte, bloomSize)
	copy(bloomBuf, hdr[20:20+bloomSize])

	filter, err := bloom.NewFromBuffer(bloomBuf, bloomK)
	if err != nil {
		return errors.Wrap(errs.ErrCorruption, "walfile: bad bloom buffer")
	}
	f.idBloom = filter

	return nil
}

// Append adds a single measurement. It returns false without writing
// if the file has reached maxRecords; the caller must open a new file.
func (f *File) Append(m meas.Meas) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, errors.Wrap(errs.ErrClosed, "walfile: append")
	}
	if f.count >= f.maxRecords {
		return false, nil
	}

	var rec [recordSize]byte
	le.PutUint64(rec[0:8], m.Id)
	le.PutUint64(rec[8:16], m.Time)
	le.PutUint64(rec[16:24], float64bits(m.Value))
	le.PutUint32(rec[24:28], m.Flag)

	off := int64(headerSize) + int64(f.count)*recordSize
	if _, err := f.f.WriteAt(rec[:], off); err != nil {
		return false, errors.Wrap(err, "walfile: write record")
	}

	f.count++
	f.idBloom.InsertUint64(m.Id)
	if m.Time < f.minTime {
		f.minTime = m.Time
	}
	if m.Time > f.maxTime {
		f.maxTime = m.Time
	}

	if err := f.writeHeader(); err != nil {
		return false, err
	}

	return true, nil
}

// AppendBatch appends as many of ms as fit, returning the count
// actually written. The caller opens a new file for the remainder.
func (f *File) AppendBatch(ms []meas.Meas) (int, error) {
	written := 0
	for _, m := range ms {
		ok, err := f.Append(m)
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}
		written++
	}

	return written, nil
}

// Full reports whether the file has reached its record cap.
func (f *File) Full() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.count >= f.maxRecords
}

// Count returns the number of records currently in the file.
func (f *File) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.count
}

// Path returns the file's on-disk path.
func (f *File) Path() string { return f.path }

// MinTime and MaxTime return the file's observed time bounds.
func (f *File) MinTime() meas.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.minTime
}

func (f *File) MaxTime() meas.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.maxTime
}

// CheckID reports whether id may be present in this file (Bloom test;
// false positives allowed, false negatives forbidden).
func (f *File) CheckID(id meas.Id) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.idBloom.ContainsUint64(id)
}

// Sync flushes the file to stable storage.
func (f *File) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.f.Sync()
}

// Close closes the underlying file handle. Close is idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	return f.f.Close()
}

// ReadAll returns every record in the file, in on-disk order.
func (f *File) ReadAll() ([]meas.Meas, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.readAllLocked()
}

func (f *File) readAllLocked() ([]meas.Meas, error) {
	out := make([]meas.Meas, 0, f.count)
	if f.count == 0 {
		return out, nil
	}

	buf := make([]byte, f.count*recordSize)
	if _, err := io.ReadFull(io.NewSectionReader(f.f, headerSize, int64(len(buf))), buf); err != nil {
		return nil, errors.Wrap(err, "walfile: read records")
	}

	for i := 0; i < f.count; i++ {
		rec := buf[i*recordSize : (i+1)*recordSize]
		out = append(out, meas.Meas{
			Id:    le.Uint64(rec[0:8]),
			Time:  le.Uint64(rec[8:16]),
			Value: float64frombits(le.Uint64(rec[16:24])),
			Flag:  le.Uint32(rec[24:28]),
		})
	}

	return out, nil
}

// MinMaxTime returns the min and max time of records matching id. ok
// is false if id is not present.
func (f *File) MinMaxTime(id meas.Id) (minT, maxT meas.Time, ok bool) {
	if !f.CheckID(id) {
		return 0, 0, false
	}

	records, err := f.ReadAll()
	if err != nil {
		return 0, 0, false
	}

	minT, maxT = meas.MaxTime, 0
	found := false
	for _, m := range records {
		if m.Id != id {
			continue
		}
		found = true
		if m.Time < minT {
			minT = m.Time
		}
		if m.Time > maxT {
			maxT = m.Time
		}
	}

	return minT, maxT, found
}

// ReadInterval returns every record matching q.
func (f *File) ReadInterval(q meas.IntervalQuery) ([]meas.Meas, error) {
	if f.MaxTime() < q.From || f.MinTime() >= q.To {
		return nil, nil
	}

	records, err := f.ReadAll()
	if err != nil {
		return nil, err
	}

	out := make([]meas.Meas, 0)
	for _, m := range records {
		if m.Time < q.From || m.Time >= q.To {
			continue
		}
		if len(q.Ids) > 0 && !q.Ids.Contains(m.Id) {
			continue
		}
		if !meas.MatchesFlag(q.Flag, m.Flag) {
			continue
		}
		out = append(out, m)
	}

	return out, nil
}

// ReadTimePoint returns, per id, the record with the greatest time at
// or before q.TimePoint matching q (an "as of" query, not an exact-time
// match — mirrors DariaDB's AOFile::readTimePoint, which keeps the
// newest record with time <= time_point per id).
func (f *File) ReadTimePoint(q meas.TimePointQuery) (map[meas.Id]meas.Meas, error) {
	if q.TimePoint < f.MinTime() {
		return map[meas.Id]meas.Meas{}, nil
	}

	records, err := f.ReadAll()
	if err != nil {
		return nil, err
	}

	out := make(map[meas.Id]meas.Meas)
	for _, m := range records {
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

	return out, nil
}

// CurrentValue returns, for each requested id present in this file,
// the record with the greatest time matching flag.
func (f *File) CurrentValue(ids meas.IdSet, flag uint32) (map[meas.Id]meas.Meas, error) {
	records, err := f.ReadAll()
	if err != nil {
		return nil, err
	}

	out := make(map[meas.Id]meas.Meas)
	for _, m := range records {
		if len(ids) > 0 && !ids.Contains(m.Id) {
			continue
		}
		if !meas.MatchesFlag(flag, m.Flag) {
			continue
		}

		if cur, ok := out[m.Id]; !ok || m.Time > cur.Time {
			out[m.Id] = m
		}
	}

	return out, nil
}

func float64bits(v float64) uint64 {
	return math.Float64bits(v)
}

func float64frombits(b uint64) float64 {
	return math.Float64frombits(b)
}
