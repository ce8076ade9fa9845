// Package engine implements the Engine facade: the entry point that
// routes appends, queries, flushes, fsck, and teardown across the WAL,
// memory, and page tiers, grounded on DariaDB's Engine
// (engines/engine.h): one facade owning the WAL, memory tier, page
// cache and compaction orchestrator, serving reads by fanning a query
// out across all three and merging the results.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chronoflux/tsengine/dropper"
	"github.com/chronoflux/tsengine/internal/env"
	"github.com/chronoflux/tsengine/internal/hash"
	"github.com/chronoflux/tsengine/internal/options"
	"github.com/chronoflux/tsengine/meas"
	"github.com/chronoflux/tsengine/memtier"
	"github.com/chronoflux/tsengine/pagefile"
	"github.com/chronoflux/tsengine/settings"
	"github.com/chronoflux/tsengine/walfile"
)

// StorageFormat is the on-disk format version this build writes,
// registered in the manifest on first open.
const StorageFormat = "1"

// Engine is the storage engine's public entry point. One Engine owns
// one storage root for its lifetime.
type Engine struct {
	env  *env.Environment
	conf *config

	lockFile *os.File

	walMu      sync.Mutex
	currentWal *walfile.File
	currentID  string

	memory *memtier.Tier
	dropCh chan memtier.DropRequest

	cache   *pagefile.Cache
	dropper *dropper.Dropper

	tickerCancel context.CancelFunc
	tickerStop   func()

	stopped atomic.Bool
}

// Open opens (creating if necessary) the storage root at path. Unless
// WithIgnoreLockFile is passed, it fails with errs.ErrLockBusy if
// another process already holds the root.
func Open(path string, opts ...Option) (*Engine, error) {
	c := defaultConfig()
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}

	var lockFile *os.File
	if !c.ignoreLockFile {
		f, err := acquireLock(path)
		if err != nil {
			return nil, err
		}
		lockFile = f
	}

	e, err := env.Open(path, c.logger)
	if err != nil {
		releaseLock(lockFile, path)

		return nil, err
	}

	cache := pagefile.NewCache()
	dropCh := newDropChannel(e.Settings.Strategy)
	d := dropper.New(e, cache, dropCh)

	eng := &Engine{
		env:      e,
		conf:     c,
		lockFile: lockFile,
		memory: memtier.New(
			e.Settings.ChunkCapacity,
			meas.Time(e.Settings.WriteWindowDeep),
			e.Settings.MemoryLimit,
			e.Settings.PercentWhenStartDropping,
			e.Settings.PercentToDrop,
			mapStrategy(e.Settings.Strategy),
			dropCh,
		),
		dropCh:  dropCh,
		cache:   cache,
		dropper: d,
	}

	if err := e.Manifest.SetFormat(StorageFormat); err != nil {
		eng.Close()

		return nil, err
	}

	if err := d.CleanStorage(); err != nil {
		eng.Close()

		return nil, err
	}

	for _, name := range e.Manifest.WalList() {
		if err := d.DropWALSync(name); err != nil {
			e.Logger.Warn("engine: startup wal compaction failed", zapErrField(err))
		}
	}

	if err := eng.rollWAL(); err != nil {
		eng.Close()

		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	interval := time.Duration(e.Settings.WriteWindowDeep+e.Settings.SyncDelta) * time.Millisecond
	eng.tickerCancel = cancel
	eng.tickerStop = eng.memory.StartTicker(ctx, interval)

	return eng, nil
}

// rollWAL must be called with walMu unlocked; it creates a new current
// WAL file and registers it with the manifest.
func (e *Engine) rollWAL() error {
	e.walMu.Lock()
	defer e.walMu.Unlock()

	name := uuid.NewString()
	path := filepath.Join(e.env.Root, name+".wal")

	wal, err := walfile.Create(path, e.env.Settings.WalFileSize)
	if err != nil {
		return errors.Wrap(err, "engine: create wal")
	}

	if err := e.env.Manifest.WalAppend(name); err != nil {
		wal.Close()

		return err
	}

	e.currentWal = wal
	e.currentID = name

	return nil
}

// Append writes m to the WAL and memory tiers. It is rejected (counted
// as Ignored) once the engine has begun stopping, or when the WAL write
// or WAL roll fails.
func (e *Engine) Append(m meas.Meas) meas.Status {
	if e.stopped.Load() {
		return meas.Status{Ignored: 1}
	}

	e.walMu.Lock()
	ok, err := e.currentWal.Append(m)
	if err != nil {
		e.walMu.Unlock()
		e.env.Logger.Error("engine: wal append failed", zapErrField(err))

		return meas.Status{Ignored: 1}
	}
	if !ok {
		sealed := e.currentID
		e.walMu.Unlock()

		if err := e.rollWAL(); err != nil {
			e.env.Logger.Error("engine: wal roll failed", zapErrField(err))

			return meas.Status{Ignored: 1}
		}

		e.dropper.DropWAL(sealed)

		e.walMu.Lock()
		ok, err = e.currentWal.Append(m)
		e.walMu.Unlock()
		if err != nil || !ok {
			return meas.Status{Ignored: 1}
		}
	} else {
		e.walMu.Unlock()
	}

	e.memory.Append(m, e.conf.clock())

	return meas.Status{Writes: 1}
}

// AppendBatch applies Append to every element of ms, accumulating the
// resulting Status.
func (e *Engine) AppendBatch(ms []meas.Meas) meas.Status {
	var total meas.Status
	for _, m := range ms {
		total.Add(e.Append(m))
	}

	return total
}

// Flush blocks until the dropper's queue of pending WAL compactions
// empties. Each page is fsynced by its writer when that page is closed;
// Flush itself does no page or cache work.
func (e *Engine) Flush() {
	e.dropper.Flush()
}

// Stop idempotently drains in-flight work and releases the lock file.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	if e.tickerCancel != nil {
		e.tickerCancel()
		e.tickerStop()
	}

	e.dropper.Flush()

	if e.dropCh != nil {
		close(e.dropCh)
	}
	e.dropper.Stop()

	e.walMu.Lock()
	if e.currentWal != nil {
		e.currentWal.Close()
	}
	e.walMu.Unlock()

	e.env.Close()
	releaseLock(e.lockFile, e.env.Root)
}

// Close is Stop, provided so Engine satisfies the common io.Closer
// shape used elsewhere in the module.
func (e *Engine) Close() error {
	e.Stop()

	return nil
}

// ReadInterval fans q out to the page, memory, and WAL tiers in
// parallel and merges the results, deduplicating on (id, time).
func (e *Engine) ReadInterval(q meas.IntervalQuery) ([]meas.Meas, error) {
	var pageResult, memResult, walResult []meas.Meas

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		pageResult, err = e.readPagesInterval(q)
		if err != nil {
			e.env.Logger.Warn("engine: page read_interval failed", zapErrField(err))
		}

		return nil
	})
	g.Go(func() error {
		memResult = e.memory.ReadInterval(q)

		return nil
	})
	g.Go(func() error {
		e.walMu.Lock()
		wal := e.currentWal
		e.walMu.Unlock()

		var err error
		walResult, err = wal.ReadInterval(q)
		if err != nil {
			e.env.Logger.Warn("engine: wal read_interval failed", zapErrField(err))
		}

		return nil
	})
	_ = g.Wait()

	return mergeInterval(pageResult, memResult, walResult), nil
}

type timeKey struct {
	id   meas.Id
	time meas.Time
}

func mergeInterval(groups ...[]meas.Meas) []meas.Meas {
	seen := make(map[timeKey]meas.Meas)
	for _, group := range groups {
		for _, m := range group {
			seen[timeKey{m.Id, m.Time}] = m
		}
	}

	out := make([]meas.Meas, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}

	sortMeas(out)

	return out
}

func sortMeas(ms []meas.Meas) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && meas.Less(ms[j], ms[j-1]); j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

func (e *Engine) readPagesInterval(q meas.IntervalQuery) ([]meas.Meas, error) {
	var out []meas.Meas

	for _, name := range e.env.Manifest.PageList() {
		base := filepath.Join(e.env.Root, name)

		id, err := e.cache.Acquire(base)
		if err != nil {
			continue
		}

		r, err := e.cache.Resolve(id)
		if err != nil {
			e.cache.Release(id)

			continue
		}

		links := r.ChunksByInterval(q)
		err = r.ReadLinks(q, links, func(m meas.Meas) bool {
			out = append(out, m)

			return true
		})

		e.cache.Release(id)

		if err != nil {
			return out, err
		}
	}

	return out, nil
}

// ReadTimePoint returns, per requested id, the newest measurement at
// or before q.TimePoint; ids with no observation get the NO_DATA
// sentinel at q.TimePoint.
func (e *Engine) ReadTimePoint(q meas.TimePointQuery) (map[meas.Id]meas.Meas, error) {
	pageResult, err := e.readPagesTimePoint(q)
	if err != nil {
		e.env.Logger.Warn("engine: page read_time_point failed", zapErrField(err))
	}

	memResult := e.memory.ReadTimePoint(q)

	e.walMu.Lock()
	wal := e.currentWal
	e.walMu.Unlock()
	walResult, err := wal.ReadTimePoint(q)
	if err != nil {
		e.env.Logger.Warn("engine: wal read_time_point failed", zapErrField(err))
	}

	out := mergeAsOf(pageResult, memResult, walResult)

	for id := range q.Ids {
		if _, ok := out[id]; !ok {
			out[id] = meas.NoDataAt(id, q.TimePoint)
		}
	}

	return out, nil
}

func mergeAsOf(groups ...map[meas.Id]meas.Meas) map[meas.Id]meas.Meas {
	out := make(map[meas.Id]meas.Meas)
	for _, group := range groups {
		for id, m := range group {
			if cur, ok := out[id]; !ok || m.Time > cur.Time {
				out[id] = m
			}
		}
	}

	return out
}

func (e *Engine) readPagesTimePoint(q meas.TimePointQuery) (map[meas.Id]meas.Meas, error) {
	out := make(map[meas.Id]meas.Meas)

	iq := meas.IntervalQuery{Ids: q.Ids, Flag: q.Flag, From: meas.MinTime, To: q.TimePoint + 1}

	for _, name := range e.env.Manifest.PageList() {
		base := filepath.Join(e.env.Root, name)

		id, err := e.cache.Acquire(base)
		if err != nil {
			continue
		}

		r, err := e.cache.Resolve(id)
		if err != nil {
			e.cache.Release(id)

			continue
		}

		links := r.ChunksByInterval(iq)
		perPage, err := r.ValuesBeforeTimePoint(q, links)

		e.cache.Release(id)

		if err != nil {
			return out, err
		}

		for id, m := range perPage {
			if cur, ok := out[id]; !ok || m.Time > cur.Time {
				out[id] = m
			}
		}
	}

	return out, nil
}

// CurrentValue returns, per id, the newest measurement at or before
// now matching flag, filling misses with the NO_DATA sentinel.
func (e *Engine) CurrentValue(ids meas.IdSet, flag uint32) (map[meas.Id]meas.Meas, error) {
	now := e.conf.clock()

	return e.ReadTimePoint(meas.TimePointQuery{Ids: ids, Flag: flag, TimePoint: now})
}

// MinTime, MaxTime, and MinMaxTime report observed time bounds across
// every tier. MinMaxTime returns ok=false for an id the engine has
// never seen.
func (e *Engine) MinTime() meas.Time {
	minT := e.memory.MinTime()

	e.walMu.Lock()
	walMin := e.currentWal.MinTime()
	e.walMu.Unlock()
	if walMin < minT {
		minT = walMin
	}

	for _, name := range e.env.Manifest.PageList() {
		base := filepath.Join(e.env.Root, name)
		if r, err := pagefile.Open(base); err == nil {
			if r.MinTime() < minT {
				minT = r.MinTime()
			}
			r.Close()
		}
	}

	return minT
}

func (e *Engine) MaxTime() meas.Time {
	maxT := e.memory.MaxTime()

	e.walMu.Lock()
	walMax := e.currentWal.MaxTime()
	e.walMu.Unlock()
	if walMax > maxT {
		maxT = walMax
	}

	for _, name := range e.env.Manifest.PageList() {
		base := filepath.Join(e.env.Root, name)
		if r, err := pagefile.Open(base); err == nil {
			if r.MaxTime() > maxT {
				maxT = r.MaxTime()
			}
			r.Close()
		}
	}

	return maxT
}

func (e *Engine) MinMaxTime(id meas.Id) (minT, maxT meas.Time, ok bool) {
	if mn, mx, found := e.memory.MinMaxTime(id); found {
		minT, maxT, ok = mn, mx, true
	}

	e.walMu.Lock()
	wal := e.currentWal
	e.walMu.Unlock()
	if wn, wx, found := wal.MinMaxTime(id); found {
		if !ok || wn < minT {
			minT = wn
		}
		if !ok || wx > maxT {
			maxT = wx
		}
		ok = true
	}

	for _, name := range e.env.Manifest.PageList() {
		base := filepath.Join(e.env.Root, name)
		r, err := pagefile.Open(base)
		if err != nil {
			continue
		}
		if r.CheckID(id) {
			if r.MinTime() < minT || !ok {
				minT = r.MinTime()
			}
			if r.MaxTime() > maxT || !ok {
				maxT = r.MaxTime()
			}
			ok = true
		}
		r.Close()
	}

	if !ok {
		return 0, 0, false
	}

	return minT, maxT, true
}

// Fsck runs the dropper's startup integrity pass on demand.
func (e *Engine) Fsck() error {
	return e.dropper.CleanStorage()
}

// EraseOld drops whole pages whose maxTime < t.
func (e *Engine) EraseOld(t meas.Time) error {
	return e.dropper.EraseOld(t)
}

// Repack re-emits every live page with denser chunks.
func (e *Engine) Repack() error {
	return e.dropper.Repack()
}

// NameToID derives a stable series id from a human-readable name. The
// engine itself is oblivious to naming; this is a convenience for
// callers that want deterministic ids without running their own
// registry.
func NameToID(name string) meas.Id {
	return hash.ID(name)
}

func mapStrategy(s settings.Strategy) memtier.Strategy {
	switch s {
	case settings.StrategyWAL:
		return memtier.StrategyWAL
	case settings.StrategyMemory:
		return memtier.StrategyMemory
	case settings.StrategyCache:
		return memtier.StrategyCache
	default:
		return memtier.StrategyCompressed
	}
}

func newDropChannel(s settings.Strategy) chan memtier.DropRequest {
	if s == settings.StrategyMemory {
		return nil
	}

	return make(chan memtier.DropRequest, 64)
}
