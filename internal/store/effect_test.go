package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxoledger/internal/data"
	"utxoledger/internal/xfr"
)

func TestComputeEffectDeterministic(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1)

	tx := txn(
		defineOp(t, issuer, code),
		issueOp(t, issuer, code, 0, r0),
		transferOp(t, issuer, []data.TxoRef{data.RelativeRef(0), data.AbsoluteRef(9)}, []xfr.Record{r0, r1}, []xfr.Record{r1}),
	)
	clone, err := tx.Clone()
	require.NoError(t, err)

	a := mustEffect(t, c, tx)
	b := mustEffect(t, c, clone)
	assert.True(t, a.Equal(b))
	assert.NoError(t, a.DeepInvariantCheck(c))
}

func TestComputeEffectSummary(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1, r2 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1), record(issuer.PublicKey(), 2)
	committed := record(issuer.PublicKey(), 3)

	e := mustEffect(t, c, txn(
		defineOp(t, issuer, code),
		issueOp(t, issuer, code, 4, r0, r1),
		transferOp(t, nil, []data.TxoRef{data.RelativeRef(1), data.AbsoluteRef(7)}, []xfr.Record{r0, committed}, []xfr.Record{r2}),
	))

	// r0 consumed internally, r1 and r2 survive
	require.Len(t, e.Txos, 3)
	assert.Nil(t, e.Txos[0])
	assert.Equal(t, r1, *e.Txos[1])
	assert.Equal(t, r2, *e.Txos[2])

	assert.Equal(t, map[data.TxoSID]xfr.Record{7: committed}, e.InputTxos)
	assert.Contains(t, e.NewAssetCodes, code)
	assert.Equal(t, []uint64{4}, e.NewIssuanceNums[code])
	assert.Equal(t, issuer.PublicKey(), e.IssuanceKeys[code])
}

func TestComputeEffectDefineOnlyAddsEmptyIssuanceList(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	issuer := newKeyPair(t)
	code := newCode(t, "silver")

	e := mustEffect(t, c, txn(defineOp(t, issuer, code)))
	assert.Empty(t, e.Txos)
	assert.Equal(t, []uint64{}, e.NewIssuanceNums[code])
}

func TestComputeEffectRejections(t *testing.T) {
	issuer := newKeyPair(t)
	other := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1)

	tests := []struct {
		name     string
		verifier xfr.Verifier
		build    func(t *testing.T) *data.Transaction
		kind     Kind
	}{
		{
			name: "define signed by someone other than the issuer",
			build: func(t *testing.T) *data.Transaction {
				body := data.DefineAssetBody{Asset: data.Asset{Code: code, Issuer: issuer.PublicKey()}}
				msg, err := data.Encode(body)
				require.NoError(t, err)
				sig, err := other.Sign(msg)
				require.NoError(t, err)
				return txn(&data.DefineAsset{Body: body, Pubkey: other.PublicKey(), Signature: sig})
			},
			kind: KindSignatureInvalid,
		},
		{
			name: "define with tampered body",
			build: func(t *testing.T) *data.Transaction {
				op := defineOp(t, issuer, code)
				op.Body.Asset.Memo = "changed"
				return txn(op)
			},
			kind: KindSignatureInvalid,
		},
		{
			name: "define twice",
			build: func(t *testing.T) *data.Transaction {
				return txn(defineOp(t, issuer, code), defineOp(t, issuer, code))
			},
			kind: KindMalformedInput,
		},
		{
			name: "issue before define",
			build: func(t *testing.T) *data.Transaction {
				return txn(issueOp(t, issuer, code, 0, r0), defineOp(t, issuer, code))
			},
			kind: KindMalformedInput,
		},
		{
			name: "issue sequence not increasing",
			build: func(t *testing.T) *data.Transaction {
				return txn(issueOp(t, issuer, code, 3, r0), issueOp(t, issuer, code, 3, r1))
			},
			kind: KindMalformedInput,
		},
		{
			name: "issue output count mismatch",
			build: func(t *testing.T) *data.Transaction {
				op := issueOp(t, issuer, code, 0, r0)
				op.Body.NumOutputs = 2
				return txn(op)
			},
			kind: KindMalformedInput,
		},
		{
			name: "issue under two keys",
			build: func(t *testing.T) *data.Transaction {
				return txn(issueOp(t, issuer, code, 0, r0), issueOp(t, other, code, 1, r1))
			},
			kind: KindMalformedInput,
		},
		{
			name: "issue with bad signature",
			build: func(t *testing.T) *data.Transaction {
				op := issueOp(t, issuer, code, 0, r0)
				op.Body.SeqNum = 1
				return txn(op)
			},
			kind: KindSignatureInvalid,
		},
		{
			name: "transfer input count mismatch",
			build: func(t *testing.T) *data.Transaction {
				return txn(transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(0)}, nil, []xfr.Record{r0}))
			},
			kind: KindMalformedInput,
		},
		{
			name: "transfer output count mismatch",
			build: func(t *testing.T) *data.Transaction {
				op := transferOp(t, nil, nil, nil, []xfr.Record{r0})
				op.Body.NumOutputs = 3
				return txn(op)
			},
			kind: KindMalformedInput,
		},
		{
			name: "relative input before the first output",
			build: func(t *testing.T) *data.Transaction {
				return txn(
					issueOp(t, issuer, code, 0, r0),
					transferOp(t, nil, []data.TxoRef{data.RelativeRef(1)}, []xfr.Record{r0}, nil),
				)
			},
			kind: KindMalformedInput,
		},
		{
			name: "relative input spent twice",
			build: func(t *testing.T) *data.Transaction {
				return txn(
					issueOp(t, issuer, code, 0, r0),
					transferOp(t, nil, []data.TxoRef{data.RelativeRef(0)}, []xfr.Record{r0}, nil),
					transferOp(t, nil, []data.TxoRef{data.RelativeRef(0)}, []xfr.Record{r0}, nil),
				)
			},
			kind: KindUnknownOrSpentInput,
		},
		{
			name: "relative input with the wrong record",
			build: func(t *testing.T) *data.Transaction {
				return txn(
					issueOp(t, issuer, code, 0, r0),
					transferOp(t, nil, []data.TxoRef{data.RelativeRef(0)}, []xfr.Record{r1}, nil),
				)
			},
			kind: KindMalformedInput,
		},
		{
			name: "absolute input spent twice",
			build: func(t *testing.T) *data.Transaction {
				return txn(
					transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(2)}, []xfr.Record{r0}, []xfr.Record{r1}),
					transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(2)}, []xfr.Record{r0}, nil),
				)
			},
			kind: KindMalformedInput,
		},
		{
			name: "bad body signature",
			build: func(t *testing.T) *data.Transaction {
				op := transferOp(t, issuer, []data.TxoRef{data.AbsoluteRef(0)}, []xfr.Record{r0}, []xfr.Record{r1})
				op.BodySignatures[0].Pubkey = other.PublicKey()
				return txn(op)
			},
			kind: KindSignatureInvalid,
		},
		{
			name:     "proof rejected",
			verifier: rejectVerifier{},
			build: func(t *testing.T) *data.Transaction {
				return txn(transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(0)}, []xfr.Record{r0}, []xfr.Record{r1}))
			},
			kind: KindProofInvalid,
		},
		{
			name: "tracing policies",
			build: func(t *testing.T) *data.Transaction {
				op := transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(0)}, []xfr.Record{r0}, []xfr.Record{r1})
				op.Body.Policies = xfr.Policies{{Name: "tracing"}}
				return txn(op)
			},
			kind: KindNotEnforced,
		},
		{
			name: "unsupported operation",
			build: func(t *testing.T) *data.Transaction {
				return txn(nil)
			},
			kind: KindMalformedInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.verifier
			if v == nil {
				v = acceptVerifier{}
			}
			_, err := NewEffectCompiler(v).ComputeEffect(tt.build(t))
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err), "error: %v", err)
			assert.True(t, IsRejection(err))
			assert.False(t, IsFatal(err))
		})
	}
}

func TestComputeEffectWithoutVerifier(t *testing.T) {
	issuer := newKeyPair(t)
	r0 := record(issuer.PublicKey(), 0)
	_, err := NewEffectCompiler(nil).ComputeEffect(txn(
		transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(0)}, []xfr.Record{r0}, []xfr.Record{r0}),
	))
	assert.True(t, errors.Is(err, ErrProofInvalid))
}

func TestDeepInvariantCheckDetectsTampering(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1)

	build := func() *TxnEffect {
		return mustEffect(t, c, txn(
			issueOp(t, issuer, code, 0, r0),
			transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(5)}, []xfr.Record{r1}, []xfr.Record{r0}),
		))
	}

	e := build()
	require.NoError(t, e.DeepInvariantCheck(c))

	e = build()
	e.InputTxos[5] = r0
	assert.ErrorIs(t, e.DeepInvariantCheck(c), ErrInvariantViolation)

	e = build()
	e.InputTxos[6] = r1
	assert.ErrorIs(t, e.DeepInvariantCheck(c), ErrInvariantViolation)

	e = build()
	e.Txos[0] = nil
	assert.ErrorIs(t, e.DeepInvariantCheck(c), ErrInvariantViolation)
}
