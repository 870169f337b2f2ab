package bitmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClearAndChecksum(t *testing.T) {
	bm, err := Create(filepath.Join(t.TempDir(), "utxo_map"))
	require.NoError(t, err)

	empty := bm.Checksum()
	bm.Set(0)
	bm.Set(1)
	bm.Set(2)
	afterSet := bm.Checksum()
	assert.NotEqual(t, empty, afterSet)

	bm.Clear(1)
	assert.NotEqual(t, afterSet, bm.Checksum())
	assert.Equal(t, uint64(3), bm.Len())
	assert.Equal(t, uint64(2), bm.Count())
	assert.True(t, bm.Test(0))
	assert.False(t, bm.Test(1))
	assert.True(t, bm.Test(2))
}

func TestClearPastEndDoesNotGrow(t *testing.T) {
	bm, err := Create(filepath.Join(t.TempDir(), "utxo_map"))
	require.NoError(t, err)
	bm.Clear(10)
	assert.Equal(t, uint64(0), bm.Len())
}

func TestLengthIsPartOfChecksum(t *testing.T) {
	a, err := Create(filepath.Join(t.TempDir(), "a"))
	require.NoError(t, err)
	b, err := Create(filepath.Join(t.TempDir(), "b"))
	require.NoError(t, err)

	a.Set(0)
	b.Set(0)
	b.Set(1)
	b.Clear(1)
	assert.Equal(t, a.Count(), b.Count())
	assert.NotEqual(t, a.Checksum(), b.Checksum())
}

func TestFlushAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utxo_map")
	bm, err := Create(path)
	require.NoError(t, err)
	for i := uint64(0); i < 130; i++ {
		bm.Set(i)
		if i%3 == 0 {
			bm.Clear(i)
		}
	}
	require.NoError(t, bm.Flush())

	back, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, bm.Len(), back.Len())
	assert.Equal(t, bm.Count(), back.Count())
	assert.Equal(t, bm.Checksum(), back.Checksum())

	_, err = Create(path)
	assert.Error(t, err)
}

func TestViewIsDetached(t *testing.T) {
	bm, err := Create(filepath.Join(t.TempDir(), "utxo_map"))
	require.NoError(t, err)
	bm.Set(0)
	bm.Set(1)
	bm.Set(2)
	bm.Clear(1)

	view := bm.View()
	bm.Clear(0)

	assert.True(t, view.Test(0))
	assert.Equal(t, []uint64{0, 2}, view.Unspent())
	assert.Equal(t, uint64(3), view.Len())
	assert.NotEqual(t, bm.Checksum(), view.Checksum())
}
