package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_PageAppendRmAndReopen(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "1", m.GetFormat())

	require.NoError(t, m.PageAppend("p1"))
	require.NoError(t, m.PageAppend("p2"))
	require.NoError(t, m.PageAppend("p1")) // idempotent
	assert.ElementsMatch(t, []string{"p1", "p2"}, m.PageList())

	require.NoError(t, m.PageRm("p1"))
	assert.Equal(t, []string{"p2"}, m.PageList())

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, reopened.PageList())
}

func TestManifest_WalLifecycle(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, m.WalAppend("w1"))
	assert.Equal(t, []string{"w1"}, m.WalList())

	require.NoError(t, m.WalRm("w1"))
	assert.Empty(t, m.WalList())
}

func TestManifest_SetFormat(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, m.SetFormat("2"))
	assert.Equal(t, "2", m.GetFormat())

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "2", reopened.GetFormat())
}
