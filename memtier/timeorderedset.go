// Package memtier implements the in-memory tier: per-series lists of
// bounded TimeOrderedSet buffers that absorb recent writes, reject
// late arrivals past the write window, and flush stale sets to the
// page tier on a tick.
package memtier

import "github.com/chronoflux/tsengine/meas"

// measSize approximates one measurement's resident memory cost, used
// for the memory-pressure accounting in Tier; it does not need to be
// exact, only proportionate.
const measSize = 32

// TimeOrderedSet is a bounded slot buffer holding measurements in the
// order they were appended (not necessarily sorted by time — callers
// route same-interval writes to the same set, but within a set the
// arrival order is preserved). It tracks its own min/max time so the
// owning list can route new writes without scanning contents.
type TimeOrderedSet struct {
	items   []meas.Meas
	minTime meas.Time
	maxTime meas.Time
}

func newTimeOrderedSet(capacity int) *TimeOrderedSet {
	return &TimeOrderedSet{items: make([]meas.Meas, 0, capacity)}
}

// NewSet builds an empty TimeOrderedSet of the given capacity. Tier
// builds sets internally via selectTarget; NewSet exists for tests and
// for callers (e.g. the dropper) that need to construct one directly
// from a DropRequest's contents.
func NewSet(capacity int) *TimeOrderedSet { return newTimeOrderedSet(capacity) }

// Append adds m to the set. It returns false if the set has reached
// its capacity; the caller must route to a different (possibly new)
// set.
func (s *TimeOrderedSet) Append(m meas.Meas) bool {
	if s.Full() {
		return false
	}

	if len(s.items) == 0 {
		s.minTime, s.maxTime = m.Time, m.Time
	} else {
		if m.Time < s.minTime {
			s.minTime = m.Time
		}
		if m.Time > s.maxTime {
			s.maxTime = m.Time
		}
	}

	s.items = append(s.items, m)

	return true
}

// Full reports whether the set has reached its configured capacity.
func (s *TimeOrderedSet) Full() bool { return len(s.items) == cap(s.items) }

// Len returns the number of measurements currently held.
func (s *TimeOrderedSet) Len() int { return len(s.items) }

// MinTime and MaxTime report the set's observed time bounds. They are
// only meaningful when Len() > 0.
func (s *TimeOrderedSet) MinTime() meas.Time { return s.minTime }
func (s *TimeOrderedSet) MaxTime() meas.Time { return s.maxTime }

// InInterval reports whether t falls within [minTime, maxTime] of an
// already-populated set.
func (s *TimeOrderedSet) InInterval(t meas.Time) bool {
	if len(s.items) == 0 {
		return false
	}

	return t >= s.minTime && t <= s.maxTime
}

// Items returns the set's measurements in append order. The returned
// slice must not be retained past the next mutation.
func (s *TimeOrderedSet) Items() []meas.Meas { return s.items }

// Bytes estimates the set's resident memory footprint.
func (s *TimeOrderedSet) Bytes() int64 { return int64(len(s.items)) * measSize }
