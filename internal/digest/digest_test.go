package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashConcatenation(t *testing.T) {
	assert.Equal(t, Hash([]byte("ab"), []byte("c")), Hash([]byte("abc")))
	assert.NotEqual(t, Hash([]byte("abc")), Hash([]byte("abd")))
	assert.False(t, Hash().IsZero())
	assert.True(t, Digest{}.IsZero())
}

func TestFromBytes(t *testing.T) {
	d := Hash([]byte("ledger"))
	back, err := FromBytes(d.Bytes())
	require.NoError(t, err)
	assert.Equal(t, d, back)

	_, err = FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
	assert.Len(t, d.String(), 2*Size)
}
