// codec.go - Canonical CBOR encoding for ledger data.
//
// Signatures and hashes are taken over Core Deterministic Encoding, so the
// same value always yields the same bytes. Logs and snapshots use the same
// modes so that what is hashed is what is stored.

package data

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Encode returns the canonical encoding of v.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode parses a single canonical item into v.
func Decode(b []byte, v any) error {
	return decMode.Unmarshal(b, v)
}

// NewEncoder returns a stream encoder using the canonical mode.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder using the canonical mode.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
