package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_InsertContains(t *testing.T) {
	f := New(1<<12, 4)

	for id := uint64(0); id < 500; id++ {
		f.InsertUint64(id)
	}

	for id := uint64(0); id < 500; id++ {
		assert.True(t, f.ContainsUint64(id), "false negative for id %d", id)
	}
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	m, k := Estimate(10000, 0.01)
	f := New(m, k)

	ids := make([]uint64, 0, 10000)
	for i := uint64(0); i < 10000; i++ {
		ids = append(ids, i*7+3)
	}
	for _, id := range ids {
		f.InsertUint64(id)
	}
	for _, id := range ids {
		require.True(t, f.ContainsUint64(id))
	}
}

func TestFilter_Merge(t *testing.T) {
	a := New(1<<10, 3)
	b := New(1<<10, 3)

	a.InsertUint64(1)
	b.InsertUint64(2)

	require.NoError(t, a.Merge(b))
	assert.True(t, a.ContainsUint64(1))
	assert.True(t, a.ContainsUint64(2))
}

func TestFilter_MergeSizeMismatch(t *testing.T) {
	a := New(1<<10, 3)
	b := New(1<<12, 3)

	assert.Error(t, a.Merge(b))
}

func TestNewFromBuffer(t *testing.T) {
	f := New(1<<10, 3)
	f.InsertUint64(42)

	wrapped, err := NewFromBuffer(f.Bytes(), 3)
	require.NoError(t, err)
	assert.True(t, wrapped.ContainsUint64(42))
}

func TestNewFromBuffer_BadSize(t *testing.T) {
	_, err := NewFromBuffer(make([]byte, 3), 3)
	assert.Error(t, err)
}
