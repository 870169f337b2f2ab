// effect.go - Intrinsic transaction validation.
//
// ComputeEffect checks everything about a transaction that does not depend on
// ledger state (signatures, transfer proofs, counts, references between its
// own operations) and summarizes what the transaction consumes and produces.
// It has no side effects, so effects for independent transactions can be
// computed in parallel.

package store

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"utxoledger/internal/data"
	"utxoledger/internal/keys"
	"utxoledger/internal/xfr"
)

// TxnEffect is the validated projection of one transaction.
type TxnEffect struct {
	// Txn is the transaction the effect was computed from. It must not be
	// modified afterwards.
	Txn *data.Transaction
	// Txos are the output slots in creation order. A nil slot was consumed
	// by a later operation of the same transaction.
	Txos []*xfr.Record
	// InputTxos are the committed outputs consumed, with the records claimed.
	InputTxos map[data.TxoSID]xfr.Record
	// NewAssetCodes are the asset types defined by this transaction.
	NewAssetCodes map[data.AssetTypeCode]data.AssetType
	// NewIssuanceNums are the issuance sequence numbers used per code, in
	// ascending order. Defining an asset adds an empty list.
	NewIssuanceNums map[data.AssetTypeCode][]uint64
	// IssuanceKeys are the keys that signed the issuances of each code.
	IssuanceKeys map[data.AssetTypeCode]keys.PublicKey
}

func newTxnEffect(txn *data.Transaction) *TxnEffect {
	return &TxnEffect{
		Txn:             txn,
		InputTxos:       make(map[data.TxoSID]xfr.Record),
		NewAssetCodes:   make(map[data.AssetTypeCode]data.AssetType),
		NewIssuanceNums: make(map[data.AssetTypeCode][]uint64),
		IssuanceKeys:    make(map[data.AssetTypeCode]keys.PublicKey),
	}
}

// EffectCompiler turns transactions into effects.
type EffectCompiler struct {
	verifier xfr.Verifier
}

// NewEffectCompiler returns a compiler that checks transfer notes with v.
func NewEffectCompiler(v xfr.Verifier) *EffectCompiler {
	return &EffectCompiler{verifier: v}
}

// ComputeEffect validates txn in isolation and returns its effect. The
// effect keeps txn; callers that need an untouched copy must Clone first.
func (c *EffectCompiler) ComputeEffect(txn *data.Transaction) (*TxnEffect, error) {
	if txn == nil {
		return nil, newError(KindMalformedInput, "nil transaction")
	}
	e := newTxnEffect(txn)
	for i, op := range txn.Operations {
		var err *Error
		switch op := op.(type) {
		case *data.DefineAsset:
			err = e.defineAsset(op)
		case *data.IssueAsset:
			err = e.issueAsset(op)
		case *data.TransferAsset:
			err = c.transferAsset(e, op)
		default:
			err = newError(KindMalformedInput, "unsupported operation type %T", op)
		}
		if err != nil {
			err.Detail = fmt.Sprintf("operation %d (%s): %s", i, data.OperationName(op), err.Detail)
			return nil, err
		}
	}
	return e, nil
}

func (e *TxnEffect) defineAsset(op *data.DefineAsset) *Error {
	if op == nil {
		return newError(KindMalformedInput, "nil operation")
	}
	msg, err := data.Encode(op.Body)
	if err != nil {
		return wrapError(KindSerialization, err, "encode body")
	}
	if !op.Pubkey.Verify(msg, op.Signature) {
		return newError(KindSignatureInvalid, "issuer signature does not verify")
	}
	asset := op.Body.Asset
	if op.Pubkey != asset.Issuer {
		return newError(KindSignatureInvalid, "signer %s is not the declared issuer %s", op.Pubkey, asset.Issuer)
	}
	code := asset.Code
	if _, ok := e.NewAssetCodes[code]; ok {
		return newError(KindMalformedInput, "asset %s defined twice", code)
	}
	if _, ok := e.NewIssuanceNums[code]; ok {
		return newError(KindMalformedInput, "asset %s issued before its definition", code)
	}
	e.NewAssetCodes[code] = data.AssetType{Properties: asset}
	e.NewIssuanceNums[code] = []uint64{}
	return nil
}

func (e *TxnEffect) issueAsset(op *data.IssueAsset) *Error {
	if op == nil {
		return newError(KindMalformedInput, "nil operation")
	}
	body := op.Body
	if body.NumOutputs != uint64(len(body.Records)) {
		return newError(KindMalformedInput, "declares %d outputs but carries %d records", body.NumOutputs, len(body.Records))
	}

	code := body.Code
	seqs := e.NewIssuanceNums[code]
	if n := len(seqs); n > 0 && seqs[n-1] >= body.SeqNum {
		return newError(KindMalformedInput, "sequence number %d does not follow %d for asset %s", body.SeqNum, seqs[n-1], code)
	}
	e.NewIssuanceNums[code] = append(seqs, body.SeqNum)

	msg, err := data.Encode(body)
	if err != nil {
		return wrapError(KindSerialization, err, "encode body")
	}
	if !op.Pubkey.Verify(msg, op.Signature) {
		return newError(KindSignatureInvalid, "issuer signature does not verify")
	}
	if prev, ok := e.IssuanceKeys[code]; ok && prev != op.Pubkey {
		return newError(KindMalformedInput, "asset %s issued under two different keys", code)
	}
	e.IssuanceKeys[code] = op.Pubkey

	for i := range body.Records {
		rec := body.Records[i]
		e.Txos = append(e.Txos, &rec)
	}
	return nil
}

func (c *EffectCompiler) transferAsset(e *TxnEffect, op *data.TransferAsset) *Error {
	if op == nil {
		return newError(KindMalformedInput, "nil operation")
	}
	body := op.Body
	note := &body.Transfer
	if len(body.Inputs) != len(note.Inputs) {
		return newError(KindMalformedInput, "%d input references for %d note inputs", len(body.Inputs), len(note.Inputs))
	}
	if body.NumOutputs != uint64(len(note.Outputs)) {
		return newError(KindMalformedInput, "declares %d outputs but note has %d", body.NumOutputs, len(note.Outputs))
	}

	// Step 1: every attached signature covers the body
	msg, err := data.Encode(body)
	if err != nil {
		return wrapError(KindSerialization, err, "encode body")
	}
	for i, sig := range op.BodySignatures {
		if !sig.Pubkey.Verify(msg, sig.Signature) {
			return newError(KindSignatureInvalid, "body signature %d by %s does not verify", i, sig.Pubkey)
		}
	}

	// Step 2: the note balances
	if c.verifier == nil {
		return newError(KindProofInvalid, "no transfer verifier configured")
	}
	if err := c.verifier.Verify(note, body.Policies); err != nil {
		if errors.Is(err, xfr.ErrPolicyNotEnforced) {
			return wrapError(KindNotEnforced, err, "transfer policies")
		}
		return wrapError(KindProofInvalid, err, "transfer note")
	}

	// Step 3: resolve inputs against this transaction's own outputs
	for i, ref := range body.Inputs {
		rec := note.Inputs[i]
		switch ref.Kind {
		case data.Relative:
			count := uint64(len(e.Txos))
			if ref.Value >= count {
				return newError(KindMalformedInput, "input %d: %s reaches before the first of %d outputs", i, ref, count)
			}
			ix := count - 1 - ref.Value
			slot := e.Txos[ix]
			if slot == nil {
				return newError(KindUnknownOrSpentInput, "input %d: %s was already spent in this transaction", i, ref)
			}
			if *slot != rec {
				return newError(KindMalformedInput, "input %d: %s does not match the note's input record", i, ref)
			}
			e.Txos[ix] = nil
		case data.Absolute:
			sid := data.TxoSID(ref.Value)
			if _, dup := e.InputTxos[sid]; dup {
				return newError(KindMalformedInput, "input %d: %s spent twice in this transaction", i, ref)
			}
			e.InputTxos[sid] = rec
		default:
			return newError(KindMalformedInput, "input %d: unknown reference kind %d", i, ref.Kind)
		}
	}

	// Step 4: new outputs
	for i := range note.Outputs {
		rec := note.Outputs[i]
		e.Txos = append(e.Txos, &rec)
	}
	return nil
}

// Equal reports whether two effects are structurally identical. The
// transactions are compared by their canonical bytes.
func (e *TxnEffect) Equal(other *TxnEffect) bool {
	if e == nil || other == nil {
		return e == other
	}
	a, err := e.Txn.Bytes()
	if err != nil {
		return false
	}
	b, err := other.Txn.Bytes()
	if err != nil || !bytes.Equal(a, b) {
		return false
	}
	return reflect.DeepEqual(e.Txos, other.Txos) &&
		reflect.DeepEqual(e.InputTxos, other.InputTxos) &&
		reflect.DeepEqual(e.NewAssetCodes, other.NewAssetCodes) &&
		reflect.DeepEqual(e.NewIssuanceNums, other.NewIssuanceNums) &&
		reflect.DeepEqual(e.IssuanceKeys, other.IssuanceKeys)
}

// DeepInvariantCheck re-derives the effect and checks that every committed
// input is claimed by exactly one transfer with the same record.
func (e *TxnEffect) DeepInvariantCheck(c *EffectCompiler) error {
	for _, sid := range sortedSIDs(e.InputTxos) {
		rec := e.InputTxos[sid]
		claims := 0
		for _, op := range e.Txn.Operations {
			xfer, ok := op.(*data.TransferAsset)
			if !ok {
				continue
			}
			for i, ref := range xfer.Body.Inputs {
				if ref.Kind != data.Absolute || data.TxoSID(ref.Value) != sid {
					continue
				}
				claims++
				if xfer.Body.Transfer.Inputs[i] != rec {
					return newError(KindInvariantViolation, "input %d claimed with a different record", sid)
				}
			}
		}
		if claims != 1 {
			return newError(KindInvariantViolation, "input %d claimed by %d transfers", sid, claims)
		}
	}

	clone, err := e.Txn.Clone()
	if err != nil {
		return wrapError(KindInvariantViolation, err, "clone transaction")
	}
	again, err := c.ComputeEffect(clone)
	if err != nil {
		return wrapError(KindInvariantViolation, err, "recomputing effect")
	}
	if !e.Equal(again) {
		return newError(KindInvariantViolation, "recomputed effect differs")
	}
	return nil
}

func sortedSIDs[V any](m map[data.TxoSID]V) []data.TxoSID {
	out := make([]data.TxoSID, 0, len(m))
	for sid := range m {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedCodes[V any](m map[data.AssetTypeCode]V) []data.AssetTypeCode {
	out := make([]data.AssetTypeCode, 0, len(m))
	for code := range m {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
