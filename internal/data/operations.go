// operations.go - The three ledger operations.
//
// Operation is a closed sum type: only *DefineAsset, *IssueAsset and
// *TransferAsset implement it, and code that inspects operations switches on
// the concrete type.

package data

import (
	"fmt"

	"utxoledger/internal/keys"
	"utxoledger/internal/xfr"
)

// Operation is one step of a transaction.
type Operation interface {
	operationName() string
}

// OperationName returns a short label for op, for logs and errors.
func OperationName(op Operation) string {
	if op == nil {
		return "nil"
	}
	return op.operationName()
}

// Asset describes an asset type as its issuer defines it.
type Asset struct {
	Code      AssetTypeCode  `cbor:"1,keyasint"`
	Issuer    keys.PublicKey `cbor:"2,keyasint"`
	Memo      string         `cbor:"3,keyasint"`
	Updatable bool           `cbor:"4,keyasint"`
	Traceable bool           `cbor:"5,keyasint"`
}

// AssetType is the registered form of an asset definition.
type AssetType struct {
	Properties Asset `cbor:"1,keyasint"`
}

type DefineAssetBody struct {
	Asset Asset `cbor:"1,keyasint"`
}

// DefineAsset registers a new asset type, signed by its issuer.
type DefineAsset struct {
	Body      DefineAssetBody `cbor:"1,keyasint"`
	Pubkey    keys.PublicKey  `cbor:"2,keyasint"`
	Signature keys.Signature  `cbor:"3,keyasint"`
}

func (*DefineAsset) operationName() string { return "define_asset" }

// NewDefineAsset builds and signs a definition of asset by issuer.
func NewDefineAsset(issuer *keys.KeyPair, asset Asset) (*DefineAsset, error) {
	asset.Issuer = issuer.PublicKey()
	op := &DefineAsset{Body: DefineAssetBody{Asset: asset}, Pubkey: issuer.PublicKey()}
	msg, err := Encode(op.Body)
	if err != nil {
		return nil, fmt.Errorf("encode define asset body: %w", err)
	}
	if op.Signature, err = issuer.Sign(msg); err != nil {
		return nil, err
	}
	return op, nil
}

type IssueAssetBody struct {
	Code       AssetTypeCode `cbor:"1,keyasint"`
	SeqNum     uint64        `cbor:"2,keyasint"`
	NumOutputs uint64        `cbor:"3,keyasint"`
	Records    []xfr.Record  `cbor:"4,keyasint"`
}

// IssueAsset mints new records of an asset, signed by its issuer.
type IssueAsset struct {
	Body      IssueAssetBody `cbor:"1,keyasint"`
	Pubkey    keys.PublicKey `cbor:"2,keyasint"`
	Signature keys.Signature `cbor:"3,keyasint"`
}

func (*IssueAsset) operationName() string { return "issue_asset" }

// NewIssueAsset builds and signs an issuance of records under seqNum.
func NewIssueAsset(issuer *keys.KeyPair, code AssetTypeCode, seqNum uint64, records []xfr.Record) (*IssueAsset, error) {
	op := &IssueAsset{
		Body: IssueAssetBody{
			Code:       code,
			SeqNum:     seqNum,
			NumOutputs: uint64(len(records)),
			Records:    records,
		},
		Pubkey: issuer.PublicKey(),
	}
	msg, err := Encode(op.Body)
	if err != nil {
		return nil, fmt.Errorf("encode issue asset body: %w", err)
	}
	if op.Signature, err = issuer.Sign(msg); err != nil {
		return nil, err
	}
	return op, nil
}

type TransferAssetBody struct {
	Inputs     []TxoRef     `cbor:"1,keyasint"`
	NumOutputs uint64       `cbor:"2,keyasint"`
	Transfer   xfr.Note     `cbor:"3,keyasint"`
	Policies   xfr.Policies `cbor:"4,keyasint,omitempty"`
}

// SignatureRecord is one signer's signature over a transfer body.
type SignatureRecord struct {
	Pubkey    keys.PublicKey `cbor:"1,keyasint"`
	Signature keys.Signature `cbor:"2,keyasint"`
}

// TransferAsset spends records into new records.
type TransferAsset struct {
	Body           TransferAssetBody `cbor:"1,keyasint"`
	BodySignatures []SignatureRecord `cbor:"2,keyasint"`
}

func (*TransferAsset) operationName() string { return "transfer_asset" }

// NewTransferAsset wraps a proven note. inputs locate the note's input
// records, in the same order.
func NewTransferAsset(inputs []TxoRef, note *xfr.Note) *TransferAsset {
	return &TransferAsset{Body: TransferAssetBody{
		Inputs:     inputs,
		NumOutputs: uint64(len(note.Outputs)),
		Transfer:   *note,
	}}
}

// Sign appends signer's signature over the body.
func (t *TransferAsset) Sign(signer *keys.KeyPair) error {
	msg, err := Encode(t.Body)
	if err != nil {
		return fmt.Errorf("encode transfer body: %w", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return err
	}
	t.BodySignatures = append(t.BodySignatures, SignatureRecord{Pubkey: signer.PublicKey(), Signature: sig})
	return nil
}
