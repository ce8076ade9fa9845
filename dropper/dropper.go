// Package dropper implements the compaction orchestrator: it moves
// sealed WAL files and evicted memory-tier sets into page files under
// a single compaction lock, reconciles crash-interrupted drops on
// startup, and implements repack/erase_old. Grounded on DariaDB's
// Dropper (storage/dropper.cpp): one compaction lock, a pending-WAL
// set behind a separate queue lock, drop_wal's try-lock-and-requeue,
// and cleanStorage's crash reconciliation.
package dropper

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/internal/env"
	"github.com/chronoflux/tsengine/meas"
	"github.com/chronoflux/tsengine/memtier"
	"github.com/chronoflux/tsengine/pagefile"
	"github.com/chronoflux/tsengine/threadpool"
	"github.com/chronoflux/tsengine/walfile"
)

const (
	walExt  = ".wal"
	pageExt = ".page"
)

// Dropper compacts WAL files and evicted memory sets into page files.
// Only one compaction runs at a time: dropWALInternal's try-lock
// re-queues itself under contention rather than blocking a DISK_IO
// worker, while consumeMemoryDrops blocks on the same lock since it
// runs on its own dedicated goroutine for the Dropper's lifetime.
type Dropper struct {
	env *env.Environment

	compactionLock sync.Mutex

	queueMu sync.Mutex
	pending map[string]struct{}
	inQueue atomic.Int64

	cache *pagefile.Cache

	dropCh chan memtier.DropRequest
	memWg  sync.WaitGroup
}

// New builds a Dropper reading evicted memory-tier sets from dropCh
// (may be nil if the engine's strategy never evicts from memory).
func New(e *env.Environment, cache *pagefile.Cache, dropCh chan memtier.DropRequest) *Dropper {
	d := &Dropper{
		env:     e,
		pending: make(map[string]struct{}),
		cache:   cache,
		dropCh:  dropCh,
	}

	if dropCh != nil {
		d.memWg.Add(1)

		go d.consumeMemoryDrops()
	}

	return d
}

// DropWAL posts a task that reads fname fully, compacts it into a new
// page, and removes it from the manifest and disk. Idempotent: a
// filename already pending is ignored.
func (d *Dropper) DropWAL(fname string) {
	d.queueMu.Lock()
	if _, exists := d.pending[fname]; exists {
		d.queueMu.Unlock()

		return
	}
	d.pending[fname] = struct{}{}
	d.inQueue.Add(1)
	d.queueMu.Unlock()

	pool := d.env.Pools.Pool(threadpool.DiskIO)
	pool.Post(func(ctx context.Context) error {
		threadpool.MustRunOn(ctx, threadpool.DiskIO)

		return d.dropWALInternal(fname)
	})
}

// DropWALSync compacts fname on the calling goroutine rather than via
// the DISK_IO pool, used on engine startup to reconcile WALs left over
// from a previous run before any reads are served.
func (d *Dropper) DropWALSync(fname string) error {
	d.queueMu.Lock()
	if _, exists := d.pending[fname]; exists {
		d.queueMu.Unlock()

		return nil
	}
	d.pending[fname] = struct{}{}
	d.inQueue.Add(1)
	d.queueMu.Unlock()

	return d.dropWALInternal(fname)
}

func (d *Dropper) dropWALInternal(fname string) error {
	if !d.compactionLock.TryLock() {
		// under contention: re-queue instead of blocking the worker.
		pool := d.env.Pools.Pool(threadpool.DiskIO)
		pool.Post(func(ctx context.Context) error {
			return d.dropWALInternal(fname)
		})

		return nil
	}
	defer d.compactionLock.Unlock()

	defer func() {
		d.queueMu.Lock()
		delete(d.pending, fname)
		d.queueMu.Unlock()
		d.inQueue.Add(-1)
	}()

	full := filepath.Join(d.env.Root, fname+walExt)

	var all []meas.Meas

	op := func() error {
		wal, err := walfile.Open(full, d.env.Settings.WalFileSize)
		if err != nil {
			return err
		}
		defer wal.Close()

		all, err = wal.ReadAll()

		return err
	}
	if err := backoff.Retry(op, retryPolicy()); err != nil {
		d.env.Logger.Warn("dropper: read wal failed", zap.String("file", fname), zap.Error(err))

		return errors.Wrap(err, "dropper: read wal")
	}

	if err := d.writeBatchToPages(all); err != nil {
		d.env.Logger.Error("dropper: compact wal failed", zap.String("file", fname), zap.Error(err))

		return err
	}

	if err := d.env.Manifest.WalRm(fname); err != nil {
		return errors.Wrap(err, "dropper: manifest wal_rm")
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "dropper: remove wal file")
	}

	d.env.Logger.Info("dropper: compacted wal", zap.String("file", fname), zap.Int("points", len(all)))

	return nil
}

// writeBatchToPages sorts batch by (id, time) and writes it into as
// many new pages as needed, registering each with the manifest as it
// closes.
func (d *Dropper) writeBatchToPages(batch []meas.Meas) error {
	if len(batch) == 0 {
		return nil
	}

	sort.Slice(batch, func(i, j int) bool { return meas.Less(batch[i], batch[j]) })

	s := d.env.Settings
	remaining := batch

	for len(remaining) > 0 {
		base := filepath.Join(d.env.Root, uuid.NewString())

		w, err := pagefile.Create(base, s.ChunkCapacity, s.ChunkSize, s.MaxChunksPerPage, s.Compression)
		if err != nil {
			return errors.Wrap(err, "dropper: create page")
		}

		written, appendErr := w.AppendBatch(remaining)
		if closeErr := w.Close(); closeErr != nil {
			return errors.Wrap(closeErr, "dropper: close page")
		}

		if written == 0 {
			return errors.Wrap(errs.ErrFull, "dropper: page cannot hold a single chunk")
		}

		name := filepath.Base(base)
		if err := d.env.Manifest.PageAppend(name); err != nil {
			return errors.Wrap(err, "dropper: manifest page_append")
		}

		remaining = remaining[written:]

		if appendErr != nil && !errors.Is(appendErr, errs.ErrFull) {
			return appendErr
		}
	}

	return nil
}

// consumeMemoryDrops drains evicted memory-tier sets into pages. It
// runs for the Dropper's lifetime; Stop closes dropCh's sender side
// via the caller and this goroutine exits once the channel drains.
func (d *Dropper) consumeMemoryDrops() {
	defer d.memWg.Done()

	for req := range d.dropCh {
		items := req.Set.Items()
		batch := make([]meas.Meas, len(items))
		copy(batch, items)

		d.compactionLock.Lock()
		err := d.writeBatchToPages(batch)
		d.compactionLock.Unlock()

		if err != nil {
			d.env.Logger.Error("dropper: compact memory set failed", zap.Uint64("id", req.Id), zap.Error(err))
		}
	}
}

// CleanStorage removes any page file whose base name collides with a
// still-live WAL, meaning a previous drop crashed after writing the
// page but before removing the WAL (DariaDB's Dropper::cleanStorage).
func (d *Dropper) CleanStorage() error {
	wals := d.env.Manifest.WalList()
	pages := d.env.Manifest.PageList()

	liveWal := make(map[string]struct{}, len(wals))
	for _, w := range wals {
		liveWal[w] = struct{}{}
	}

	for _, p := range pages {
		if _, collide := liveWal[p]; !collide {
			continue
		}

		d.env.Logger.Info("dropper: fsck removing unfinished drop page", zap.String("page", p))

		if d.cache != nil {
			_ = d.cache.Evict(filepath.Join(d.env.Root, p))
		}
		if err := removePageFiles(d.env.Root, p); err != nil {
			return err
		}
		if err := d.env.Manifest.PageRm(p); err != nil {
			return err
		}
	}

	return nil
}

// EraseOld drops every page whose maxTime < t entirely.
func (d *Dropper) EraseOld(t meas.Time) error {
	for _, name := range d.env.Manifest.PageList() {
		base := filepath.Join(d.env.Root, name)

		r, err := pagefile.Open(base)
		if err != nil {
			continue
		}
		maxTime := r.MaxTime()
		r.Close()

		if maxTime >= t {
			continue
		}

		if d.cache != nil {
			_ = d.cache.Evict(base)
		}
		if err := removePageFiles(d.env.Root, name); err != nil {
			return err
		}
		if err := d.env.Manifest.PageRm(name); err != nil {
			return err
		}
	}

	return nil
}

// Repack re-emits every live page through writeBatchToPages so its
// chunks are re-batched more densely, then retires the original,
// mirroring DariaDB's page_manager.cpp defragmentation pass.
func (d *Dropper) Repack() error {
	for _, name := range d.env.Manifest.PageList() {
		base := filepath.Join(d.env.Root, name)

		r, err := pagefile.Open(base)
		if err != nil {
			return errors.Wrap(err, "dropper: repack open page")
		}

		var all []meas.Meas
		links := r.ChunksByInterval(meas.IntervalQuery{From: meas.MinTime, To: meas.MaxTime})
		err = r.ReadLinks(meas.IntervalQuery{From: meas.MinTime, To: meas.MaxTime}, links, func(m meas.Meas) bool {
			all = append(all, m)

			return true
		})
		r.Close()
		if err != nil {
			return errors.Wrap(err, "dropper: repack read page")
		}

		if err := d.writeBatchToPages(all); err != nil {
			return err
		}

		if d.cache != nil {
			_ = d.cache.Evict(base)
		}
		if err := removePageFiles(d.env.Root, name); err != nil {
			return err
		}
		if err := d.env.Manifest.PageRm(name); err != nil {
			return err
		}
	}

	return nil
}

// Flush blocks until the pending-WAL queue empties, spin-sleeping the
// same way DariaDB's Dropper does.
func (d *Dropper) Flush() {
	for d.inQueue.Load() != 0 {
		time.Sleep(100 * time.Millisecond)
	}
}

// Stop waits for the memory-drop consumer to exit. The caller (the
// engine) must close dropCh before calling Stop, once no more
// evictions can occur; Stop itself never closes the channel since it
// doesn't own the sending side.
func (d *Dropper) Stop() {
	if d.dropCh != nil {
		d.memWg.Wait()
	}
}

func removePageFiles(root, name string) error {
	if err := os.Remove(filepath.Join(root, name+pageExt)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "dropper: remove page file")
	}
	if err := os.Remove(filepath.Join(root, name+".pagei")); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "dropper: remove page index file")
	}

	return nil
}

func retryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
}
