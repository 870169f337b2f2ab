package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"utxoledger/internal/data"
	"utxoledger/internal/keys"
	"utxoledger/internal/xfr"
)

// acceptVerifier stands in for the Groth16 verifier where a test is about
// ledger bookkeeping rather than proofs.
type acceptVerifier struct{}

func (acceptVerifier) Verify(_ *xfr.Note, policies xfr.Policies) error {
	if len(policies) > 0 {
		return xfr.ErrPolicyNotEnforced
	}
	return nil
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(*xfr.Note, xfr.Policies) error { return xfr.ErrProofInvalid }

func newKeyPair(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair(nil)
	require.NoError(t, err)
	return kp
}

func newCode(t *testing.T, name string) data.AssetTypeCode {
	t.Helper()
	code, err := data.AssetTypeCodeFromString(name)
	require.NoError(t, err)
	return code
}

// record returns a distinct record for owner; commitments are opaque to
// acceptVerifier.
func record(owner keys.PublicKey, n byte) xfr.Record {
	r := xfr.Record{Owner: owner}
	r.Commitment[30] = 0x5a
	r.Commitment[31] = n
	return r
}

func defineOp(t *testing.T, issuer *keys.KeyPair, code data.AssetTypeCode) *data.DefineAsset {
	t.Helper()
	op, err := data.NewDefineAsset(issuer, data.Asset{Code: code, Memo: "test asset"})
	require.NoError(t, err)
	return op
}

func issueOp(t *testing.T, issuer *keys.KeyPair, code data.AssetTypeCode, seq uint64, records ...xfr.Record) *data.IssueAsset {
	t.Helper()
	op, err := data.NewIssueAsset(issuer, code, seq, records)
	require.NoError(t, err)
	return op
}

func transferOp(t *testing.T, signer *keys.KeyPair, refs []data.TxoRef, in, out []xfr.Record) *data.TransferAsset {
	t.Helper()
	op := data.NewTransferAsset(refs, &xfr.Note{Inputs: in, Outputs: out, Proof: []byte{0x01}})
	if signer != nil {
		require.NoError(t, op.Sign(signer))
	}
	return op
}

func txn(ops ...data.Operation) *data.Transaction {
	return data.NewTransaction(ops...)
}

func mustEffect(t *testing.T, c *EffectCompiler, tx *data.Transaction) *TxnEffect {
	t.Helper()
	e, err := c.ComputeEffect(tx)
	require.NoError(t, err)
	return e
}

func mustApplyStatus(t *testing.T, s *LedgerStatus, c *EffectCompiler, tx *data.Transaction) (data.TxnSID, []data.TxoSID) {
	t.Helper()
	sid, txos, err := s.ApplyTxnEffects(mustEffect(t, c, tx))
	require.NoError(t, err)
	return sid, txos
}

func mustApplyState(t *testing.T, s *LedgerState, c *EffectCompiler, tx *data.Transaction) (data.TxnSID, []data.TxoSID) {
	t.Helper()
	sid, txos, err := s.ApplyTransaction(mustEffect(t, c, tx))
	require.NoError(t, err)
	return sid, txos
}

func newState(t *testing.T) (*LedgerState, Paths) {
	t.Helper()
	paths := PathsIn(t.TempDir())
	s, err := New(paths)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, paths
}
