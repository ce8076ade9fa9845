package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEncoder_RoundTrip(t *testing.T) {
	values := []float64{1.5, 1.5, 1.5, 2.75, 2.76, -3.14159, 0, math.Inf(1), math.NaN(), 42}

	enc := NewValueEncoder()
	for _, v := range values {
		enc.Append(v)
	}
	data := enc.Bytes()

	dec := NewValueDecoder(data, len(values))
	for i, want := range values {
		got, ok := dec.Next()
		require.True(t, ok, "value %d", i)
		if math.IsNaN(want) {
			assert.True(t, math.IsNaN(got))

			continue
		}
		assert.Equal(t, want, got)
	}
}

func TestValueEncoder_ConstantRun(t *testing.T) {
	enc := NewValueEncoder()
	for i := 0; i < 50; i++ {
		enc.Append(7.0)
	}
	data := enc.Bytes()

	// First value 64 bits raw, remaining 49 cost one bit each.
	assert.LessOrEqual(t, len(data), 8+((49+7)/8)+1)

	dec := NewValueDecoder(data, 50)
	for i := 0; i < 50; i++ {
		v, ok := dec.Next()
		require.True(t, ok)
		assert.Equal(t, 7.0, v)
	}
}

func TestValueEncoder_SameBlockReuse(t *testing.T) {
	values := []float64{100.0, 100.1, 100.2, 100.3, 100.4, 100.5}

	enc := NewValueEncoder()
	for _, v := range values {
		enc.Append(v)
	}
	dec := NewValueDecoder(enc.Bytes(), len(values))
	for _, want := range values {
		got, ok := dec.Next()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}
