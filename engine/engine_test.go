package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/meas"
	"github.com/chronoflux/tsengine/settings"
)

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	root := t.TempDir()

	e, err := Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	return e
}

// openTestEngineAtRoot pre-seeds root with a generous chunk_size so a
// chunk's compressed payload never has to fight a tight default for
// test data that happens to compress worse than production traffic.
func openTestEngineAtRoot(t *testing.T, root string, opts ...Option) *Engine {
	t.Helper()

	s := settings.Default()
	s.ChunkSize = 16384
	require.NoError(t, settings.Save(root, s))

	e, err := Open(root, opts...)
	require.NoError(t, err)

	return e
}

// Insert id=1, t=0..999 by 1, value=t, flag=0xff; querying interval
// [100,200] returns 101 points with times 100..200.
func TestEngine_IntervalQueryReturnsExactRange(t *testing.T) {
	e := openTestEngineAtRoot(t, t.TempDir())
	t.Cleanup(e.Stop)

	for i := uint64(0); i < 1000; i++ {
		status := e.Append(meas.Meas{Id: 1, Time: meas.Time(i), Value: float64(i), Flag: 0xff})
		require.Equal(t, 1, status.Writes)
	}

	got, err := e.ReadInterval(meas.IntervalQuery{
		Ids:  meas.NewIdSet([]meas.Id{1}),
		From: 100,
		To:   201,
	})
	require.NoError(t, err)

	require.Len(t, got, 101)
	assert.Equal(t, meas.Time(100), got[0].Time)
	assert.Equal(t, meas.Time(200), got[len(got)-1].Time)
	for i, m := range got {
		assert.Equal(t, meas.Time(100+i), m.Time)
		assert.Equal(t, float64(100+i), m.Value)
	}
}

// Insert 3 interleaved streams id in {1,2,3}, t=0..99 each;
// CurrentValue(ids={1,2,3}) returns three measurements with time=99.
func TestEngine_CurrentValueAcrossStreams(t *testing.T) {
	now := meas.Time(0)
	e := openTestEngine(t, WithClock(func() meas.Time { return now }))

	for i := uint64(0); i < 100; i++ {
		now = meas.Time(i)
		for _, id := range []meas.Id{1, 2, 3} {
			status := e.Append(meas.Meas{Id: id, Time: meas.Time(i), Value: float64(id)})
			require.Equal(t, 1, status.Writes)
		}
	}

	got, err := e.CurrentValue(meas.NewIdSet([]meas.Id{1, 2, 3}), 0)
	require.NoError(t, err)

	require.Len(t, got, 3)
	for _, id := range []meas.Id{1, 2, 3} {
		m, ok := got[id]
		require.True(t, ok)
		assert.Equal(t, meas.Time(99), m.Time)
	}
}

// Open an engine, append points for id=1, stop it, reopen, and confirm
// max_time survives the cycle. Scaled down to 5000 points for test
// speed; the property under test is unaffected by N.
func TestEngine_MaxTimeSurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")

	const n = 5000

	e := openTestEngineAtRoot(t, root)

	for i := uint64(0); i < n; i++ {
		status := e.Append(meas.Meas{Id: 1, Time: meas.Time(i), Value: float64(i)})
		require.Equal(t, 1, status.Writes)
	}
	e.Stop()

	reopened, err := Open(root)
	require.NoError(t, err)
	defer reopened.Stop()

	assert.Equal(t, meas.Time(n-1), reopened.MaxTime())
}

// A small memory_limit forces the tier to evict, via the same
// Append-triggered maybeEvict path memtier/tier_test.go exercises
// directly, down to this level through Engine.Append.
func TestEngine_MemoryPressureEviction(t *testing.T) {
	root := t.TempDir()

	s := settings.Default()
	s.MemoryLimit = 8192
	s.PercentWhenStartDropping = 0.75
	s.PercentToDrop = 0.25
	s.ChunkSize = 16384
	require.NoError(t, settings.Save(root, s))

	var now meas.Time
	e, err := Open(root, WithClock(func() meas.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	for i := uint64(0); i < 2000; i++ {
		now = meas.Time(i)
		e.Append(meas.Meas{Id: meas.Id(i % 50), Time: now, Value: float64(i)})
	}

	assert.LessOrEqual(t, float64(e.memory.BytesUsed()), float64(s.MemoryLimit)*s.PercentWhenStartDropping)
}

// write_window_deep defaults to 5s (5000ms); a point 10s in the past
// is rejected by the memory tier but still lands in the WAL, so
// ReadInterval covering that time only surfaces it via the WAL path.
func TestEngine_LateArrivalViaWALOnly(t *testing.T) {
	now := meas.Time(20000)
	e := openTestEngine(t, WithClock(func() meas.Time { return now }))

	// Establish the tier's notion of "now" with a normal write first.
	require.Equal(t, 1, e.Append(meas.Meas{Id: 1, Time: now, Value: 1}).Writes)

	late := now - 10000
	status := e.Append(meas.Meas{Id: 1, Time: late, Value: 2})
	require.Equal(t, 1, status.Writes, "a late arrival is still accepted by the WAL tier")

	_, _, memHasID1 := e.memory.MinMaxTime(1)
	require.True(t, memHasID1, "id 1 has other, on-time points in memory")

	got, err := e.ReadInterval(meas.IntervalQuery{
		Ids:  meas.NewIdSet([]meas.Id{1}),
		From: late,
		To:   late + 1,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, late, got[0].Time)
	assert.Equal(t, float64(2), got[0].Value)
}
