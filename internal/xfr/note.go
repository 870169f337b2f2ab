// note.go - Asset records, openings and transfer notes.
//
// A Record is the public half of an output: a commitment plus its owner. The
// Opening is the private half its owner keeps to spend it later.

package xfr

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"utxoledger/internal/keys"
)

// Arity is the number of input and output slots in the transfer circuit.
const Arity = 4

var (
	ErrProofInvalid      = errors.New("xfr: transfer proof rejected")
	ErrTooManyRecords    = errors.New("xfr: too many records for circuit arity")
	ErrUnbalanced        = errors.New("xfr: inputs and outputs do not balance")
	ErrMixedAssets       = errors.New("xfr: records open to different asset types")
	ErrOpeningMismatch   = errors.New("xfr: opening does not match record commitment")
	ErrPolicyNotEnforced = errors.New("xfr: asset tracing policies are not yet enforced")
)

// AssetType is the 16-byte asset code committed inside a record.
type AssetType [16]byte

// Commitment is a MiMC commitment to an amount, asset type and blinding factor.
type Commitment [fr.Bytes]byte

// Record is a confidential output as the ledger stores it.
type Record struct {
	Commitment Commitment     `cbor:"1,keyasint"`
	Owner      keys.PublicKey `cbor:"2,keyasint"`
}

// Opening reveals what a Record commits to.
type Opening struct {
	Amount uint64
	Asset  AssetType
	Blind  fr.Element
}

// Commit recomputes the commitment of o.
func (o Opening) Commit() Commitment {
	return commitment(o.Amount, o.Asset, o.Blind)
}

// Opened pairs a record with its opening, as a prover holds it.
type Opened struct {
	Record  Record
	Opening Opening
}

// Check reports whether the opening matches the record.
func (o Opened) Check() error {
	if o.Opening.Commit() != o.Record.Commitment {
		return ErrOpeningMismatch
	}
	return nil
}

// NewRecord creates a record of amount units of asset owned by owner, with a
// fresh blinding factor.
func NewRecord(owner keys.PublicKey, amount uint64, asset AssetType) (Opened, error) {
	var blind fr.Element
	if _, err := blind.SetRandom(); err != nil {
		return Opened{}, fmt.Errorf("xfr: blinding factor: %w", err)
	}
	op := Opening{Amount: amount, Asset: asset, Blind: blind}
	return Opened{Record: Record{Commitment: op.Commit(), Owner: owner}, Opening: op}, nil
}

// RandomAssetType draws a random asset type.
func RandomAssetType() (AssetType, error) {
	var a AssetType
	if _, err := rand.Read(a[:]); err != nil {
		return a, err
	}
	return a, nil
}

// Note is a confidential transfer body.
type Note struct {
	Inputs  []Record `cbor:"1,keyasint"`
	Outputs []Record `cbor:"2,keyasint"`
	Proof   []byte   `cbor:"3,keyasint"`
}

// Policy names an asset tracing policy a transfer claims to satisfy.
type Policy struct {
	Name   string `cbor:"1,keyasint"`
	Params []byte `cbor:"2,keyasint,omitempty"`
}

// Policies are the tracing policies that apply to a transfer.
type Policies []Policy

// Verifier checks transfer notes.
type Verifier interface {
	Verify(note *Note, policies Policies) error
}
