package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	other, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	msg := []byte("define asset A")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	assert.True(t, kp.PublicKey().Verify(msg, sig))
	assert.False(t, kp.PublicKey().Verify([]byte("define asset B"), sig))
	assert.False(t, other.PublicKey().Verify(msg, sig))
	assert.False(t, kp.PublicKey().Verify(msg, Signature{1, 2, 3}))
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	pk := kp.PublicKey()
	assert.True(t, pk.Valid())
	back, err := ParsePublicKey(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, back)

	_, err = ParsePublicKey("zz")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParsePublicKey("00ff")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}
