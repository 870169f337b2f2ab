// ids.go - Ledger identifiers and asset codes.

package data

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"utxoledger/internal/xfr"
)

// TxnSID is the sequence number of a committed transaction.
type TxnSID uint64

// TxoSID is the sequence number of an allocated output slot.
type TxoSID uint64

// AssetTypeCode names an asset type.
type AssetTypeCode [16]byte

// NewAssetTypeCode draws a random code from r, or crypto/rand when r is nil.
func NewAssetTypeCode(r io.Reader) (AssetTypeCode, error) {
	if r == nil {
		r = rand.Reader
	}
	var c AssetTypeCode
	if _, err := io.ReadFull(r, c[:]); err != nil {
		return c, fmt.Errorf("asset code: %w", err)
	}
	return c, nil
}

// AssetTypeCodeFromString zero-pads a name of at most 16 bytes into a code.
func AssetTypeCodeFromString(s string) (AssetTypeCode, error) {
	var c AssetTypeCode
	if len(s) > len(c) {
		return c, fmt.Errorf("asset code %q longer than %d bytes", s, len(c))
	}
	copy(c[:], s)
	return c, nil
}

// XfrType is the asset type records of this code commit to.
func (c AssetTypeCode) XfrType() xfr.AssetType {
	return xfr.AssetType(c)
}

func (c AssetTypeCode) String() string {
	return hex.EncodeToString(c[:])
}

// RefKind tells how a TxoRef locates its output.
type RefKind uint8

const (
	// Relative counts backwards from the newest output slot of the same transaction.
	Relative RefKind = iota
	// Absolute names an output already committed to the ledger.
	Absolute
)

// TxoRef locates an input.
type TxoRef struct {
	Kind  RefKind `cbor:"1,keyasint"`
	Value uint64  `cbor:"2,keyasint"`
}

// RelativeRef refers to the output offset slots before the newest one in
// the same transaction.
func RelativeRef(offset uint64) TxoRef {
	return TxoRef{Kind: Relative, Value: offset}
}

// AbsoluteRef refers to a committed output.
func AbsoluteRef(sid TxoSID) TxoRef {
	return TxoRef{Kind: Absolute, Value: uint64(sid)}
}

func (r TxoRef) String() string {
	switch r.Kind {
	case Relative:
		return fmt.Sprintf("relative(%d)", r.Value)
	case Absolute:
		return fmt.Sprintf("absolute(%d)", r.Value)
	}
	return fmt.Sprintf("unknown-ref(%d,%d)", r.Kind, r.Value)
}
