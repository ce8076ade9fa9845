package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/meas"
)

func appendN(t *testing.T, c *Chunk, n int, startID meas.Id) []meas.Meas {
	t.Helper()

	out := make([]meas.Meas, 0, n)
	for i := 0; i < n; i++ {
		m := meas.Meas{Id: startID, Time: meas.Time(i * 10), Value: float64(i), Flag: 0}
		ok := c.Append(m)
		require.True(t, ok)
		out = append(out, m)
	}

	return out
}

func TestChunk_AppendAndRead(t *testing.T) {
	c := New(100, 0)
	want := appendN(t, c, 10, 1)
	c.Seal()

	require.True(t, c.ReadOnly())
	require.NoError(t, c.VerifyChecksum())

	got := c.Reader().All()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}

	assert.Equal(t, want[0], c.First())
	assert.Equal(t, want[len(want)-1], c.Last())
	assert.Equal(t, meas.Time(0), c.MinTime())
	assert.Equal(t, meas.Time(90), c.MaxTime())
}

func TestChunk_FullSealsAndRejects(t *testing.T) {
	c := New(3, 0)
	for i := 0; i < 3; i++ {
		ok := c.Append(meas.Meas{Id: 1, Time: meas.Time(i)})
		require.True(t, ok)
	}

	assert.True(t, c.ReadOnly())
	assert.False(t, c.Append(meas.Meas{Id: 1, Time: 99}))
}

func TestChunk_CheckIDAndFlag(t *testing.T) {
	c := New(100, 0)
	appendN(t, c, 20, 5)
	c.Seal()

	assert.True(t, c.CheckID(5))
	assert.False(t, c.CheckID(6))
	assert.True(t, c.CheckFlag(0))
}

func TestChunk_ChecksumMismatchDetected(t *testing.T) {
	c := New(10, 0)
	appendN(t, c, 5, 1)
	c.Seal()

	require.NoError(t, c.VerifyChecksum())

	if len(c.streams.Value) > 0 {
		c.streams.Value[0] ^= 0xFF
	} else {
		c.streams.Time[0] ^= 0xFF
	}

	assert.Error(t, c.VerifyChecksum())
}
