package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineConfig is a test config with both kinds of option: plain
// setters (NoError), the kind engine.WithLogger/WithClock/
// WithIgnoreLockFile use, and a validating setter (New).
type engineConfig struct {
	memoryLimit int64
	ignoreLock  bool
}

func withMemoryLimit(n int64) Option[*engineConfig] {
	return New(func(c *engineConfig) error {
		if n <= 0 {
			return errors.New("memory limit must be positive")
		}
		c.memoryLimit = n

		return nil
	})
}

func withIgnoreLock() Option[*engineConfig] {
	return NoError(func(c *engineConfig) { c.ignoreLock = true })
}

func TestApply_RunsOptionsInOrder(t *testing.T) {
	c := &engineConfig{}

	err := Apply(c, withMemoryLimit(1024), withIgnoreLock())
	require.NoError(t, err)
	assert.Equal(t, int64(1024), c.memoryLimit)
	assert.True(t, c.ignoreLock)
}

func TestApply_StopsAtFirstError(t *testing.T) {
	c := &engineConfig{}

	err := Apply(c, withMemoryLimit(1024), withMemoryLimit(-1), withIgnoreLock())
	require.Error(t, err)
	assert.Equal(t, int64(1024), c.memoryLimit, "first option's effect survives")
	assert.False(t, c.ignoreLock, "option after the failing one never runs")
}

func TestApply_EmptyOptionsIsNoop(t *testing.T) {
	c := &engineConfig{}

	require.NoError(t, Apply(c))
	assert.Zero(t, *c)
}

func TestNoError_NeverFails(t *testing.T) {
	c := &engineConfig{}

	opt := NoError(func(c *engineConfig) { c.memoryLimit = 42 })
	require.NoError(t, Apply(c, opt))
	assert.Equal(t, int64(42), c.memoryLimit)
}
