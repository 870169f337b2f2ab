package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxoledger/internal/keys"
	"utxoledger/internal/xfr"
)

func sampleTransaction(t *testing.T) (*Transaction, *keys.KeyPair) {
	t.Helper()
	issuer, err := keys.GenerateKeyPair(nil)
	require.NoError(t, err)
	code, err := AssetTypeCodeFromString("gold")
	require.NoError(t, err)

	def, err := NewDefineAsset(issuer, Asset{Code: code, Memo: "bullion", Traceable: true})
	require.NoError(t, err)

	rec := xfr.Record{Owner: issuer.PublicKey()}
	rec.Commitment[31] = 7
	iss, err := NewIssueAsset(issuer, code, 0, []xfr.Record{rec})
	require.NoError(t, err)

	xfer := NewTransferAsset([]TxoRef{RelativeRef(0), AbsoluteRef(3)}, &xfr.Note{
		Inputs:  []xfr.Record{rec, rec},
		Outputs: []xfr.Record{rec},
		Proof:   []byte{0xde, 0xad},
	})
	require.NoError(t, xfer.Sign(issuer))
	return NewTransaction(def, iss, xfer), issuer
}

func TestTransactionRoundTrip(t *testing.T) {
	txn, _ := sampleTransaction(t)
	b, err := txn.Bytes()
	require.NoError(t, err)

	var back Transaction
	require.NoError(t, Decode(b, &back))
	assert.Equal(t, txn.Operations, back.Operations)

	again, err := back.Bytes()
	require.NoError(t, err)
	assert.Equal(t, b, again)

	clone, err := txn.Clone()
	require.NoError(t, err)
	assert.Equal(t, txn, clone)
	assert.NotSame(t, txn.Operations[0], clone.Operations[0])
}

func TestOperationVariantsAreExclusive(t *testing.T) {
	txn, _ := sampleTransaction(t)
	w := transactionWire{Operations: []operationWire{{
		DefineAsset: txn.Operations[0].(*DefineAsset),
		IssueAsset:  txn.Operations[1].(*IssueAsset),
	}}}
	b, err := Encode(w)
	require.NoError(t, err)
	var back Transaction
	assert.ErrorIs(t, Decode(b, &back), ErrBadOperation)

	b, err = Encode(transactionWire{Operations: []operationWire{{}}})
	require.NoError(t, err)
	assert.ErrorIs(t, Decode(b, &back), ErrBadOperation)

	_, err = NewTransaction(nil).Bytes()
	assert.ErrorIs(t, err, ErrBadOperation)
	var nilDef *DefineAsset
	_, err = NewTransaction(nilDef).Bytes()
	assert.ErrorIs(t, err, ErrBadOperation)
}

func TestSignaturesCoverBodies(t *testing.T) {
	txn, issuer := sampleTransaction(t)

	def := txn.Operations[0].(*DefineAsset)
	msg, err := Encode(def.Body)
	require.NoError(t, err)
	assert.True(t, def.Pubkey.Verify(msg, def.Signature))
	assert.Equal(t, issuer.PublicKey(), def.Body.Asset.Issuer)

	iss := txn.Operations[1].(*IssueAsset)
	iss.Body.SeqNum++
	msg, err = Encode(iss.Body)
	require.NoError(t, err)
	assert.False(t, iss.Pubkey.Verify(msg, iss.Signature))

	xfer := txn.Operations[2].(*TransferAsset)
	msg, err = Encode(xfer.Body)
	require.NoError(t, err)
	require.Len(t, xfer.BodySignatures, 1)
	assert.True(t, xfer.BodySignatures[0].Pubkey.Verify(msg, xfer.BodySignatures[0].Signature))
	assert.Equal(t, uint64(1), xfer.Body.NumOutputs)
}

func TestMerkleHashBindsSID(t *testing.T) {
	txn, _ := sampleTransaction(t)
	h0, err := txn.MerkleHash(0)
	require.NoError(t, err)
	h1, err := txn.MerkleHash(1)
	require.NoError(t, err)
	assert.NotEqual(t, h0, h1)

	again, err := txn.MerkleHash(0)
	require.NoError(t, err)
	assert.Equal(t, h0, again)
}

func TestAssetCodesAndRefs(t *testing.T) {
	c, err := AssetTypeCodeFromString("A")
	require.NoError(t, err)
	assert.Equal(t, byte('A'), c[0])
	assert.Equal(t, xfr.AssetType(c), c.XfrType())

	_, err = AssetTypeCodeFromString("this name is far too long")
	assert.Error(t, err)

	r1, err := NewAssetTypeCode(nil)
	require.NoError(t, err)
	r2, err := NewAssetTypeCode(nil)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)

	assert.Equal(t, "relative(2)", RelativeRef(2).String())
	assert.Equal(t, "absolute(9)", AbsoluteRef(9).String())
}

func TestUtxoDigest(t *testing.T) {
	rec := xfr.Record{}
	rec.Commitment[0] = 1
	u1, err := NewUtxo(rec)
	require.NoError(t, err)
	rec.Commitment[0] = 2
	u2, err := NewUtxo(rec)
	require.NoError(t, err)
	assert.NotEqual(t, u1.Digest, u2.Digest)
}
