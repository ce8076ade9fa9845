package memtier

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chronoflux/tsengine/meas"
)

// Strategy picks what happens to a set once it is evicted from the
// tier, mirroring the engine's persisted strategy setting.
type Strategy int

const (
	// StrategyCompressed and StrategyWAL both forward evicted sets to
	// the Dropper so they land in a page file.
	StrategyCompressed Strategy = iota
	StrategyWAL
	// StrategyMemory is exempt from memory-pressure eviction; sets
	// still age out on Tick and are forwarded only if dropCh is set.
	StrategyMemory
	// StrategyCache mirrors writes to the WAL tier on the way in, so an
	// eviction here loses no data and can simply be dropped.
	StrategyCache
)

// DropRequest is one flushed-out set, handed to the Dropper over a
// channel rather than through a shared queue with its own lock.
type DropRequest struct {
	Id  meas.Id
	Set *TimeOrderedSet
}

// Tier is the in-memory write buffer: one ordered list of
// TimeOrderedSet per series, guarded by a single process-wide mutex.
// It rejects arrivals older than its write window, flushes sets that
// have aged out on Tick, and sheds the oldest sets under memory
// pressure. Grounded on libdariadb's Capacitor (storage/capacitor.cpp):
// tos_ptr per series, dict = map<Id, list<tos_ptr>>, check_and_append
// routing logic, flush_old_sets.
type Tier struct {
	mu sync.Mutex

	setCapacity int
	lists       map[meas.Id]*list.List

	minTime, maxTime meas.Time
	count            int
	bytesUsed        int64

	writeWindowDeep meas.Time
	memoryLimit     int64
	pctStart        float64
	pctDrop         float64
	strategy        Strategy

	dropCh chan DropRequest
}

// New builds an empty tier. setCapacity bounds each TimeOrderedSet.
// writeWindowDeep is the late-arrival rejection window, in the same
// millisecond units as meas.Time. memoryLimit/pctStart/pctDrop drive
// memory-pressure eviction: eviction begins once bytesUsed exceeds
// memoryLimit*pctStart and continues until bytesUsed falls to
// memoryLimit*(pctStart-pctDrop). dropCh receives every evicted set
// unless strategy is StrategyCache.
func New(setCapacity int, writeWindowDeep meas.Time, memoryLimit int64, pctStart, pctDrop float64, strategy Strategy, dropCh chan DropRequest) *Tier {
	return &Tier{
		setCapacity:     setCapacity,
		lists:           make(map[meas.Id]*list.List),
		minTime:         meas.MaxTime,
		maxTime:         meas.MinTime,
		writeWindowDeep: writeWindowDeep,
		memoryLimit:     memoryLimit,
		pctStart:        pctStart,
		pctDrop:         pctDrop,
		strategy:        strategy,
		dropCh:          dropCh,
	}
}

// Append routes m into the series' set list. now is the caller's
// notion of the current time, used only to enforce the write window;
// tests pass a fixed value, the engine passes its clock's reading. It returns
// false if m is older than now-writeWindowDeep and was rejected: the
// WAL tier already has it, so a rejection here is not an error.
func (t *Tier) Append(m meas.Meas, now meas.Time) bool {
	if now > t.writeWindowDeep && m.Time < now-t.writeWindowDeep {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lst := t.lists[m.Id]
	if lst == nil {
		lst = list.New()
		t.lists[m.Id] = lst
	}

	target := t.selectTarget(lst, m.Time)
	target.Append(m)

	if m.Time < t.minTime {
		t.minTime = m.Time
	}
	if m.Time > t.maxTime {
		t.maxTime = m.Time
	}
	t.count++
	t.bytesUsed += measSize

	t.maybeEvict()

	return true
}

// selectTarget finds (or creates) the set in lst that m's time should
// land in, following libdariadb's capacitor routing: prefer the most
// recently opened set if the time is new or falls in its interval,
// else walk backwards looking for a set whose interval covers it or
// that already ends before it, else open a new set at the front.
func (t *Tier) selectTarget(lst *list.List, when meas.Time) *TimeOrderedSet {
	if lst.Len() == 0 {
		s := newTimeOrderedSet(t.setCapacity)
		lst.PushBack(s)

		return s
	}

	last := lst.Back().Value.(*TimeOrderedSet)
	if last.Len() == 0 || when >= last.MaxTime() || last.InInterval(when) {
		if last.Full() {
			s := newTimeOrderedSet(t.setCapacity)
			lst.PushBack(s)

			return s
		}

		return last
	}

	for e := lst.Back(); e != nil; e = e.Prev() {
		s := e.Value.(*TimeOrderedSet)
		if s.InInterval(when) || s.MaxTime() < when {
			if s.Full() {
				ns := newTimeOrderedSet(t.setCapacity)
				lst.InsertAfter(ns, e)

				return ns
			}

			return s
		}
	}

	s := newTimeOrderedSet(t.setCapacity)
	lst.PushFront(s)

	return s
}

// Tick flushes every set whose max time has aged out of the write
// window as of now. Flushed sets are forwarded to dropCh unless the
// strategy is StrategyCache.
func (t *Tier) Tick(now meas.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now <= t.writeWindowDeep {
		return
	}
	cutoff := now - t.writeWindowDeep

	for id, lst := range t.lists {
		e := lst.Front()
		for e != nil {
			s := e.Value.(*TimeOrderedSet)
			if s.MaxTime() >= cutoff {
				break
			}

			next := e.Next()
			lst.Remove(e)
			t.removeAccounting(s)
			t.forwardDrop(id, s)
			e = next
		}

		if lst.Len() == 0 {
			delete(t.lists, id)
		}
	}
}

// StartTicker runs Tick on interval until ctx is canceled, driven by a
// real wall clock; the caller typically sets interval to
// write_window_deep + a small margin. The returned func blocks until
// the background goroutine has exited.
func (t *Tier) StartTicker(ctx context.Context, interval time.Duration) (stop func()) {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.Tick(meas.Time(now.UnixMilli()))
			}
		}
	}()

	return func() { <-done }
}

// maybeEvict sheds the globally oldest sets once bytesUsed crosses the
// start threshold, down to the drop threshold. Must be called with
// t.mu held. StrategyMemory never evicts voluntarily.
func (t *Tier) maybeEvict() {
	if t.strategy == StrategyMemory || t.memoryLimit <= 0 {
		return
	}

	start := float64(t.memoryLimit) * t.pctStart
	if float64(t.bytesUsed) <= start {
		return
	}
	target := float64(t.memoryLimit) * (t.pctStart - t.pctDrop)

	type entry struct {
		id   meas.Id
		elem *list.Element
		set  *TimeOrderedSet
	}

	all := make([]entry, 0)
	for id, lst := range t.lists {
		for e := lst.Front(); e != nil; e = e.Next() {
			all = append(all, entry{id: id, elem: e, set: e.Value.(*TimeOrderedSet)})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].set.MinTime() < all[j].set.MinTime() })

	for _, en := range all {
		if float64(t.bytesUsed) <= target {
			break
		}

		lst := t.lists[en.id]
		lst.Remove(en.elem)
		t.removeAccounting(en.set)
		t.forwardDrop(en.id, en.set)

		if lst.Len() == 0 {
			delete(t.lists, en.id)
		}
	}
}

func (t *Tier) removeAccounting(s *TimeOrderedSet) {
	t.count -= s.Len()
	t.bytesUsed -= s.Bytes()
}

func (t *Tier) forwardDrop(id meas.Id, s *TimeOrderedSet) {
	if t.strategy == StrategyCache || t.dropCh == nil {
		return
	}

	t.dropCh <- DropRequest{Id: id, Set: s}
}

// ReadInterval scans resident sets for measurements matching q. It
// only sees data that hasn't been flushed yet; the engine facade is
// responsible for merging this with the WAL and page tiers.
func (t *Tier) ReadInterval(q meas.IntervalQuery) []meas.Meas {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]meas.Meas, 0)

	t.forEachSeries(q.Ids, func(_ meas.Id, lst *list.List) {
		for e := lst.Front(); e != nil; e = e.Next() {
			s := e.Value.(*TimeOrderedSet)
			for _, m := range s.Items() {
				if m.Time < q.From || m.Time >= q.To {
					continue
				}
				if !meas.MatchesFlag(q.Flag, m.Flag) {
					continue
				}
				out = append(out, m)
			}
		}
	})

	return out
}

// ReadTimePoint returns, per id, the resident measurement with the
// greatest time at or before q.TimePoint matching q (an "as of" query
// — see walfile.File.ReadTimePoint for the same convention).
func (t *Tier) ReadTimePoint(q meas.TimePointQuery) map[meas.Id]meas.Meas {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[meas.Id]meas.Meas)

	t.forEachSeries(q.Ids, func(id meas.Id, lst *list.List) {
		for e := lst.Front(); e != nil; e = e.Next() {
			s := e.Value.(*TimeOrderedSet)
			for _, m := range s.Items() {
				if m.Time > q.TimePoint {
					continue
				}
				if !meas.MatchesFlag(q.Flag, m.Flag) {
					continue
				}
				if cur, ok := out[id]; !ok || m.Time > cur.Time {
					out[id] = m
				}
			}
		}
	})

	return out
}

// CurrentValue returns, per id in ids, the most recent resident
// measurement at or before now matching flag.
func (t *Tier) CurrentValue(ids meas.IdSet, flag uint32, now meas.Time) map[meas.Id]meas.Meas {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[meas.Id]meas.Meas)

	t.forEachSeries(ids, func(id meas.Id, lst *list.List) {
		for e := lst.Front(); e != nil; e = e.Next() {
			s := e.Value.(*TimeOrderedSet)
			for _, m := range s.Items() {
				if m.Time > now {
					continue
				}
				if !meas.MatchesFlag(flag, m.Flag) {
					continue
				}
				if cur, ok := out[id]; !ok || m.Time > cur.Time {
					out[id] = m
				}
			}
		}
	})

	return out
}

func (t *Tier) forEachSeries(ids meas.IdSet, fn func(id meas.Id, lst *list.List)) {
	if len(ids) == 0 {
		for id, lst := range t.lists {
			fn(id, lst)
		}

		return
	}

	for id := range ids {
		if lst, ok := t.lists[id]; ok {
			fn(id, lst)
		}
	}
}

// MinMaxTime reports the observed time bounds for one series' resident
// data.
func (t *Tier) MinMaxTime(id meas.Id) (minT, maxT meas.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lst, exists := t.lists[id]
	if !exists || lst.Len() == 0 {
		return 0, 0, false
	}

	minT, maxT = meas.MaxTime, meas.MinTime
	for e := lst.Front(); e != nil; e = e.Next() {
		s := e.Value.(*TimeOrderedSet)
		if s.Len() == 0 {
			continue
		}
		if s.MinTime() < minT {
			minT = s.MinTime()
		}
		if s.MaxTime() > maxT {
			maxT = s.MaxTime()
		}
	}

	return minT, maxT, true
}

// MinTime and MaxTime report the tier's global observed time bounds.
func (t *Tier) MinTime() meas.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.minTime
}

func (t *Tier) MaxTime() meas.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.maxTime
}

// Count returns the number of measurements currently resident.
func (t *Tier) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

// BytesUsed returns the tier's estimated memory footprint.
func (t *Tier) BytesUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bytesUsed
}
