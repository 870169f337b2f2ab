// crypto.go - Native commitment primitives.
//
// The native MiMC hash here matches the in-circuit MiMC of circuit.go, so a
// commitment computed off-circuit opens inside the proof.

package xfr

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// commitment computes MiMC(amount, asset, blind) over BN254.
func commitment(amount uint64, asset AssetType, blind fr.Element) Commitment {
	a := new(fr.Element).SetUint64(amount)
	t := assetElement(asset)
	h := mimc.NewMiMC()
	for _, e := range []*fr.Element{a, &t, &blind} {
		b := e.Bytes()
		h.Write(b[:])
	}
	var c Commitment
	copy(c[:], h.Sum(nil))
	return c
}

// assetElement maps a 16-byte asset type into the scalar field.
func assetElement(asset AssetType) fr.Element {
	var e fr.Element
	e.SetBigInt(new(big.Int).SetBytes(asset[:]))
	return e
}

// fieldValue converts a commitment into a public circuit input. Commitments
// must be canonical field encodings, otherwise two byte strings would name
// the same input.
func (c Commitment) fieldValue() (*big.Int, error) {
	v := new(big.Int).SetBytes(c[:])
	if v.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: commitment %x is not a field element", ErrProofInvalid, c[:])
	}
	return v, nil
}
