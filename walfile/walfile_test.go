package walfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/meas"
)

func tempPath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "test.wal")
}

func TestFile_AppendAndReadAll(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path, 100)
	require.NoError(t, err)
	defer f.Close()

	want := []meas.Meas{
		{Id: 1, Time: 10, Value: 1.5, Flag: 0},
		{Id: 2, Time: 20, Value: 2.5, Flag: 1},
		{Id: 1, Time: 30, Value: 3.5, Flag: 0},
	}
	for _, m := range want {
		ok, err := f.Append(m)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, meas.Time(10), f.MinTime())
	assert.Equal(t, meas.Time(30), f.MaxTime())
}

func TestFile_FullRejects(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path, 2)
	require.NoError(t, err)
	defer f.Close()

	ok, err := f.Append(meas.Meas{Id: 1, Time: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Append(meas.Meas{Id: 1, Time: 2})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Append(meas.Meas{Id: 1, Time: 3})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.Full())
}

func TestFile_ReopenPreservesData(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path, 100)
	require.NoError(t, err)

	want := []meas.Meas{
		{Id: 1, Time: 10, Value: 1.5},
		{Id: 2, Time: 20, Value: 2.5},
	}
	for _, m := range want {
		_, err := f.Append(m)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	reopened, err := Open(path, 100)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, reopened.CheckID(1))
	assert.True(t, reopened.CheckID(2))
}

func TestFile_TruncatesPartialTrailingRecord(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path, 100)
	require.NoError(t, err)

	_, err = f.Append(meas.Meas{Id: 1, Time: 10, Value: 1})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Simulate a crash mid-write: append a few stray bytes of a
	// partial second record past the last whole one.
	raw, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := raw.Stat()
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte{1, 2, 3}, info.Size())
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	reopened, err := Open(path, 100)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Count())
	got, err := reopened.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestFile_ReadIntervalAndTimePoint(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path, 100)
	require.NoError(t, err)
	defer f.Close()

	for i := uint64(0); i < 10; i++ {
		_, err := f.Append(meas.Meas{Id: 1, Time: i, Value: float64(i)})
		require.NoError(t, err)
	}

	got, err := f.ReadInterval(meas.IntervalQuery{From: 3, To: 6})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, meas.Time(3), got[0].Time)

	point, err := f.ReadTimePoint(meas.TimePointQuery{TimePoint: 5})
	require.NoError(t, err)
	require.Contains(t, point, meas.Id(1))
	assert.Equal(t, meas.Time(5), point[1].Time)
}

func TestFile_CurrentValue(t *testing.T) {
	path := tempPath(t)
	f, err := Create(path, 100)
	require.NoError(t, err)
	defer f.Close()

	for i := uint64(0); i < 5; i++ {
		_, err := f.Append(meas.Meas{Id: 1, Time: i, Value: float64(i)})
		require.NoError(t, err)
	}

	cur, err := f.CurrentValue(meas.NewIdSet([]meas.Id{1}), 0)
	require.NoError(t, err)
	require.Contains(t, cur, meas.Id(1))
	assert.Equal(t, meas.Time(4), cur[1].Time)
}
