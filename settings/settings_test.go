package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/format"
)

func TestLoad_CreatesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), s)

	reloaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s, reloaded)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := Default()
	s.Strategy = StrategyCache
	s.MemoryLimit = 123456

	require.NoError(t, Save(dir, s))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestValidate_RejectsUnknownCompression(t *testing.T) {
	s := Default()
	s.Compression = format.CompressionType(0xff)
	assert.Error(t, s.Validate())
}

func TestValidate_RejectsTinyChunkSize(t *testing.T) {
	s := Default()
	s.ChunkSize = 32
	assert.Error(t, s.Validate())
}

func TestValidate_AcceptsDefault(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
