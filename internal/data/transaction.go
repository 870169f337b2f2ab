// transaction.go - Transactions, finalized history entries and unspent outputs.

package data

import (
	"errors"
	"fmt"

	"utxoledger/internal/digest"
	"utxoledger/internal/xfr"
)

var ErrBadOperation = errors.New("malformed operation")

// Transaction is an ordered list of operations.
type Transaction struct {
	Operations []Operation
}

// NewTransaction builds a transaction from ops.
func NewTransaction(ops ...Operation) *Transaction {
	return &Transaction{Operations: ops}
}

// operationWire carries exactly one operation variant.
type operationWire struct {
	DefineAsset   *DefineAsset   `cbor:"1,keyasint,omitempty"`
	IssueAsset    *IssueAsset    `cbor:"2,keyasint,omitempty"`
	TransferAsset *TransferAsset `cbor:"3,keyasint,omitempty"`
}

type transactionWire struct {
	Operations []operationWire `cbor:"1,keyasint"`
}

func (t Transaction) MarshalCBOR() ([]byte, error) {
	w := transactionWire{Operations: make([]operationWire, len(t.Operations))}
	for i, op := range t.Operations {
		switch op := op.(type) {
		case *DefineAsset:
			if op == nil {
				return nil, fmt.Errorf("%w: operation %d is a nil define_asset", ErrBadOperation, i)
			}
			w.Operations[i].DefineAsset = op
		case *IssueAsset:
			if op == nil {
				return nil, fmt.Errorf("%w: operation %d is a nil issue_asset", ErrBadOperation, i)
			}
			w.Operations[i].IssueAsset = op
		case *TransferAsset:
			if op == nil {
				return nil, fmt.Errorf("%w: operation %d is a nil transfer_asset", ErrBadOperation, i)
			}
			w.Operations[i].TransferAsset = op
		default:
			return nil, fmt.Errorf("%w: operation %d has type %T", ErrBadOperation, i, op)
		}
	}
	return encMode.Marshal(w)
}

func (t *Transaction) UnmarshalCBOR(b []byte) error {
	var w transactionWire
	if err := decMode.Unmarshal(b, &w); err != nil {
		return err
	}
	ops := make([]Operation, len(w.Operations))
	for i, ow := range w.Operations {
		n := 0
		if ow.DefineAsset != nil {
			ops[i] = ow.DefineAsset
			n++
		}
		if ow.IssueAsset != nil {
			ops[i] = ow.IssueAsset
			n++
		}
		if ow.TransferAsset != nil {
			ops[i] = ow.TransferAsset
			n++
		}
		if n != 1 {
			return fmt.Errorf("%w: operation %d carries %d variants", ErrBadOperation, i, n)
		}
	}
	t.Operations = ops
	return nil
}

// Bytes returns the canonical encoding of t.
func (t *Transaction) Bytes() ([]byte, error) {
	return encMode.Marshal(t)
}

// Clone returns a deep copy of t.
func (t *Transaction) Clone() (*Transaction, error) {
	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	var c Transaction
	if err := decMode.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MerkleHash is the Merkle leaf committing to t under the given SID.
func (t *Transaction) MerkleHash(sid TxnSID) (digest.Digest, error) {
	b, err := t.Bytes()
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Hash(b, digest.Uint64(uint64(sid))), nil
}

// FinalizedTransaction is a committed transaction with its SID and Merkle
// leaf index.
type FinalizedTransaction struct {
	Txn      Transaction `cbor:"1,keyasint"`
	TxnSID   TxnSID      `cbor:"2,keyasint"`
	MerkleID uint64      `cbor:"3,keyasint"`
}

// Utxo is an unspent output with the digest of its record.
type Utxo struct {
	Record xfr.Record    `cbor:"1,keyasint"`
	Digest digest.Digest `cbor:"2,keyasint"`
}

// NewUtxo wraps record with its digest.
func NewUtxo(record xfr.Record) (Utxo, error) {
	b, err := encMode.Marshal(record)
	if err != nil {
		return Utxo{}, err
	}
	return Utxo{Record: record, Digest: digest.Hash(b)}, nil
}
