// digest.go - Collision-resistant hashing shared by the ledger accumulators.
//
// Every ledger commitment (Merkle leaves and nodes, bitmap checksums, record
// digests, the global hash chain) is a SHA3-256 Digest.

package digest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a Digest in bytes.
const Size = 32

// Digest is a SHA3-256 output.
type Digest [Size]byte

// Hash returns the SHA3-256 digest of the concatenation of parts.
func Hash(parts ...[]byte) Digest {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Uint64 encodes v little-endian, for hashing counters.
func Uint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Bytes returns a copy of the digest as a slice.
func (d Digest) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, d[:])
	return b
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// FromBytes converts a 32-byte slice into a Digest.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("digest: expected %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}
