// Package errs collects the engine's sentinel errors.
//
// Every well-known failure mode gets a package-level sentinel checked
// with errors.Is; contextual detail is layered on with
// github.com/pkg/errors.Wrap at the call site rather than by minting a
// new error type per occurrence.
package errs

import "errors"

var (
	// ErrFull is returned by a page writer once the page cannot take
	// another chunk, and by the chunk payload encoder when a payload does
	// not fit chunk_size. Chunk and WAL appends report a full buffer by
	// returning false instead.
	ErrFull = errors.New("tsengine: buffer is full")

	// ErrNotFound is returned by the page cache and page reader for an
	// unknown page id or chunk link. Engine bounds queries report an
	// unknown id with ok=false instead.
	ErrNotFound = errors.New("tsengine: id not found")

	// ErrAlreadyStopped is the result of a task posted to a thread pool
	// that has already stopped. Engine.Append reports a call made after
	// shutdown has begun as Status.Ignored instead.
	ErrAlreadyStopped = errors.New("tsengine: engine already stopped")

	// ErrLockBusy is returned by Open when another process holds the
	// storage root's lock file.
	ErrLockBusy = errors.New("tsengine: storage root is locked by another process")

	// ErrChecksum is returned when a chunk's CRC-32 does not match its
	// buffer on read. The page reader stops at that chunk and returns
	// the error; later chunks of the page are not read.
	ErrChecksum = errors.New("tsengine: chunk checksum mismatch")

	// ErrCorruption is returned when a page, index, WAL or manifest file,
	// or a chunk payload header, cannot be parsed at all (as opposed to
	// a single chunk failing its checksum).
	ErrCorruption = errors.New("tsengine: file is corrupt")

	// ErrReadonly is not returned anywhere in this module; a sealed
	// chunk's Append reports false instead.
	ErrReadonly = errors.New("tsengine: buffer is readonly")

	// ErrClosed is returned by Append on a WAL file that has already been
	// closed.
	ErrClosed = errors.New("tsengine: file is closed")
)
