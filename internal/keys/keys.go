// keys.go - Signing keys for asset issuers and output owners.
//
// Keys are EdDSA over the BN254 twisted Edwards curve. Public keys travel in
// their 32-byte compressed form so they can be compared, hashed and encoded
// like any other fixed-size value.

package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"golang.org/x/crypto/sha3"
)

// PublicKeySize is the length of a compressed public key.
const PublicKeySize = 32

var ErrInvalidPublicKey = errors.New("keys: invalid public key")

// PublicKey is a compressed EdDSA public key.
type PublicKey [PublicKeySize]byte

// Signature is an EdDSA signature in its canonical encoding.
type Signature []byte

// KeyPair holds an EdDSA private key and its public half.
type KeyPair struct {
	priv *eddsa.PrivateKey
	pub  PublicKey
}

// challengeHash is the hash used for the EdDSA challenge H(R, A, M).
func challengeHash() hash.Hash {
	return sha3.New256()
}

// GenerateKeyPair creates a key pair from r, or crypto/rand when r is nil.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	priv, err := eddsa.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	kp := &KeyPair{priv: priv}
	copy(kp.pub[:], priv.PublicKey.Bytes())
	return kp, nil
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() PublicKey {
	return k.pub
}

// Sign signs msg.
func (k *KeyPair) Sign(msg []byte) (Signature, error) {
	sig, err := k.priv.Sign(msg, challengeHash())
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature of msg under pk.
func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	key, err := pk.point()
	if err != nil {
		return false
	}
	ok, err := key.Verify(sig, msg, challengeHash())
	return err == nil && ok
}

// Valid reports whether pk decodes to a curve point.
func (pk PublicKey) Valid() bool {
	_, err := pk.point()
	return err == nil
}

func (pk PublicKey) point() (*eddsa.PublicKey, error) {
	var key eddsa.PublicKey
	if _, err := key.SetBytes(pk[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return &key, nil
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// ParsePublicKey decodes a hex-encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(b))
	}
	copy(pk[:], b)
	if !pk.Valid() {
		return pk, ErrInvalidPublicKey
	}
	return pk, nil
}
