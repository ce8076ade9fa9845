package pagefile

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/format"
	"github.com/chronoflux/tsengine/meas"
)

func buildPage(t *testing.T, batch []meas.Meas, chunkCapacity, chunkSize, maxChunks int) string {
	t.Helper()

	base := filepath.Join(t.TempDir(), "p0")
	w, err := Create(base, chunkCapacity, chunkSize, maxChunks, format.CompressionS2)
	require.NoError(t, err)

	written, err := w.AppendBatch(batch)
	require.NoError(t, err)
	require.Equal(t, len(batch), written)

	require.NoError(t, w.Close())

	return base
}

func TestWriterReader_RoundTrip(t *testing.T) {
	batch := make([]meas.Meas, 0, 50)
	for i := uint64(0); i < 50; i++ {
		batch = append(batch, meas.Meas{Id: 1, Time: i, Value: float64(i)})
	}

	base := buildPage(t, batch, 10, 4096, 10)

	r, err := Open(base)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, meas.Time(0), r.MinTime())
	assert.Equal(t, meas.Time(49), r.MaxTime())
	assert.True(t, r.CheckID(1))
	assert.False(t, r.CheckID(2))

	q := meas.IntervalQuery{Ids: meas.NewIdSet([]meas.Id{1}), From: 0, To: 50}
	links := r.ChunksByInterval(q)
	assert.NotEmpty(t, links)

	got := make([]meas.Meas, 0, 50)
	err = r.ReadLinks(q, links, func(m meas.Meas) bool {
		got = append(got, m)

		return true
	})
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestWriterReader_IntervalSubset(t *testing.T) {
	batch := make([]meas.Meas, 0, 100)
	for i := uint64(0); i < 100; i++ {
		batch = append(batch, meas.Meas{Id: 1, Time: i, Value: float64(i)})
	}
	base := buildPage(t, batch, 10, 4096, 20)

	r, err := Open(base)
	require.NoError(t, err)
	defer r.Close()

	q := meas.IntervalQuery{From: 20, To: 30}
	links := r.ChunksByInterval(q)

	var got []meas.Meas
	require.NoError(t, r.ReadLinks(q, links, func(m meas.Meas) bool {
		got = append(got, m)

		return true
	}))

	require.Len(t, got, 10)
	assert.Equal(t, meas.Time(20), got[0].Time)
	assert.Equal(t, meas.Time(29), got[len(got)-1].Time)
}

func TestWriterReader_PageFullReturnsPartial(t *testing.T) {
	base := filepath.Join(t.TempDir(), "pfull")
	w, err := Create(base, 5, 4096, 2, format.CompressionS2)
	require.NoError(t, err)

	batch := make([]meas.Meas, 0, 15)
	for i := uint64(0); i < 15; i++ {
		batch = append(batch, meas.Meas{Id: 1, Time: i})
	}

	written, err := w.AppendBatch(batch)
	assert.Error(t, err)
	assert.Equal(t, 10, written)
	require.NoError(t, w.Close())
}

// TestWriterReader_ByteBudgetSplitsChunksInsteadOfFailing reproduces a
// batch whose records never repeat an id, value or time delta, so
// every stream hits its worst-case per-record cost and compression
// cannot shrink the result. A count-only chunk capacity would pack all
// of it into one chunk and then fail to fit chunkSize; the byte-aware
// writer should instead split the batch across several small chunks
// within the same page.
func TestWriterReader_ByteBudgetSplitsChunksInsteadOfFailing(t *testing.T) {
	base := filepath.Join(t.TempDir(), "psplit")
	w, err := Create(base, 200, 256, 64, format.CompressionNone)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	batch := make([]meas.Meas, 0, 20)
	tcur := uint64(1_700_000_000_000)
	for i := 0; i < 20; i++ {
		tcur += uint64(rng.Intn(1_000_000) + 500_000)
		batch = append(batch, meas.Meas{
			Id:    uint64(i) + 1,
			Time:  tcur,
			Value: rng.Float64() * 1e9,
		})
	}

	written, err := w.AppendBatch(batch)
	require.NoError(t, err)
	assert.Equal(t, len(batch), written)
	require.NoError(t, w.Close())

	r, err := Open(base)
	require.NoError(t, err)
	defer r.Close()

	q := meas.IntervalQuery{From: meas.MinTime, To: meas.MaxTime}
	links := r.ChunksByInterval(q)
	assert.Greater(t, len(links), 1, "high-entropy batch should have been split across multiple chunks")

	var got []meas.Meas
	require.NoError(t, r.ReadLinks(q, links, func(m meas.Meas) bool {
		got = append(got, m)

		return true
	}))
	assert.Equal(t, batch, got)
}

func TestValuesBeforeTimePoint(t *testing.T) {
	batch := []meas.Meas{
		{Id: 1, Time: 10, Value: 1},
		{Id: 1, Time: 20, Value: 2},
		{Id: 2, Time: 15, Value: 3},
	}
	base := buildPage(t, batch, 10, 4096, 5)

	r, err := Open(base)
	require.NoError(t, err)
	defer r.Close()

	q := meas.TimePointQuery{Ids: meas.NewIdSet([]meas.Id{1, 2}), TimePoint: 18}
	links := r.ChunksByInterval(meas.IntervalQuery{Ids: q.Ids, From: meas.MinTime, To: meas.MaxTime})

	got, err := r.ValuesBeforeTimePoint(q, links)
	require.NoError(t, err)
	assert.Equal(t, meas.Time(10), got[1].Time)
	assert.Equal(t, meas.Time(15), got[2].Time)
}

func TestCache_RefCounting(t *testing.T) {
	batch := []meas.Meas{{Id: 1, Time: 1}}
	base := buildPage(t, batch, 10, 4096, 5)

	c := NewCache()

	id1, err := c.Acquire(base)
	require.NoError(t, err)
	id2, err := c.Acquire(base)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Release(id1))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Release(id2))
	assert.Equal(t, 0, c.Len())
}
