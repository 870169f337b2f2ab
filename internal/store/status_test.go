package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxoledger/internal/data"
	"utxoledger/internal/digest"
	"utxoledger/internal/xfr"
)

func TestApplyTxnEffectsAllocatesSlots(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1, r2 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1), record(issuer.PublicKey(), 2)

	sid, txos := mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code)))
	assert.Equal(t, data.TxnSID(0), sid)
	assert.Empty(t, txos)
	assert.Equal(t, data.TxoSID(0), s.NextTxo())

	// three slots, the middle one consumed by the transfer
	sid, txos = mustApplyStatus(t, s, c, txn(
		issueOp(t, issuer, code, 0, r0, r1),
		transferOp(t, nil, []data.TxoRef{data.RelativeRef(0)}, []xfr.Record{r1}, []xfr.Record{r2}),
	))
	assert.Equal(t, data.TxnSID(1), sid)
	assert.Equal(t, []data.TxoSID{0, 2}, txos)
	assert.Equal(t, data.TxoSID(3), s.NextTxo())
	assert.Equal(t, data.TxnSID(2), s.NextTxn())
	assert.Equal(t, 2, s.UtxoCount())

	u, ok := s.GetUtxo(2)
	require.True(t, ok)
	assert.Equal(t, r2, u.Record)
	want, err := data.NewUtxo(r2)
	require.NoError(t, err)
	assert.Equal(t, want.Digest, u.Digest)

	_, ok = s.GetUtxo(1)
	assert.False(t, ok)
}

func TestNextTxoCountsEverySlot(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code)))

	created := uint64(0)
	for i := 0; i < 5; i++ {
		recs := make([]xfr.Record, i+1)
		for j := range recs {
			recs[j] = record(issuer.PublicKey(), byte(10*i+j))
		}
		// every transaction consumes its own first output
		first := recs[0]
		tx := txn(
			issueOp(t, issuer, code, uint64(i), recs...),
			transferOp(t, nil, []data.TxoRef{data.RelativeRef(uint64(len(recs) - 1))}, []xfr.Record{first}, nil),
		)
		base := s.NextTxo()
		_, txos := mustApplyStatus(t, s, c, tx)
		created += uint64(len(recs))

		for k, sid := range txos {
			assert.GreaterOrEqual(t, sid, base)
			assert.Less(t, sid, s.NextTxo())
			if k > 0 {
				assert.Greater(t, sid, txos[k-1])
			}
		}
		assert.Len(t, txos, len(recs)-1)
	}
	assert.Equal(t, data.TxoSID(created), s.NextTxo())
}

func TestDoubleSpendRejected(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1, r2 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1), record(issuer.PublicKey(), 2)

	mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code), issueOp(t, issuer, code, 0, r0)))
	spend := func(out xfr.Record) *TxnEffect {
		return mustEffect(t, c, txn(transferOp(t, issuer, []data.TxoRef{data.AbsoluteRef(0)}, []xfr.Record{r0}, []xfr.Record{out})))
	}

	_, _, err := s.ApplyTxnEffects(spend(r1))
	require.NoError(t, err)

	next := s.NextTxn()
	second := spend(r2)
	assert.ErrorIs(t, s.Validate(second), ErrUnknownOrSpentInput)
	_, _, err = s.ApplyTxnEffects(second)
	assert.ErrorIs(t, err, ErrUnknownOrSpentInput)
	assert.Equal(t, next, s.NextTxn())
}

func TestInputRecordMustMatch(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	r0, r1 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1)

	mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code), issueOp(t, issuer, code, 0, r0)))
	e := mustEffect(t, c, txn(transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(0)}, []xfr.Record{r1}, []xfr.Record{r1})))
	assert.ErrorIs(t, s.Validate(e), ErrUnknownOrSpentInput)
}

func TestIssuanceSequence(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	code := newCode(t, "gold")
	mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code)))

	n, ok := s.GetIssuanceNum(code)
	require.True(t, ok)
	assert.Equal(t, uint64(0), n)

	issue := func(seq uint64, b byte) error {
		_, _, err := s.ApplyTxnEffects(mustEffect(t, c, txn(issueOp(t, issuer, code, seq, record(issuer.PublicKey(), b)))))
		return err
	}

	require.NoError(t, issue(5, 1))
	assert.ErrorIs(t, issue(5, 2), ErrReplayedIssuance)
	assert.ErrorIs(t, issue(4, 3), ErrReplayedIssuance)
	require.NoError(t, issue(6, 4))

	n, _ = s.GetIssuanceNum(code)
	assert.Equal(t, uint64(7), n)
}

func TestIssuanceChecks(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	issuer := newKeyPair(t)
	other := newKeyPair(t)
	code := newCode(t, "gold")
	r0 := record(issuer.PublicKey(), 0)

	t.Run("unknown asset", func(t *testing.T) {
		s := NewLedgerStatus()
		e := mustEffect(t, c, txn(issueOp(t, issuer, code, 0, r0)))
		assert.ErrorIs(t, s.Validate(e), ErrUnknownAsset)
	})

	t.Run("define and issue together", func(t *testing.T) {
		s := NewLedgerStatus()
		_, txos := mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code), issueOp(t, issuer, code, 0, r0)))
		assert.Equal(t, []data.TxoSID{0}, txos)
		n, _ := s.GetIssuanceNum(code)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("issued by a stranger", func(t *testing.T) {
		s := NewLedgerStatus()
		mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code)))
		e := mustEffect(t, c, txn(issueOp(t, other, code, 0, r0)))
		assert.ErrorIs(t, s.Validate(e), ErrUnauthorizedIssuer)
	})

	t.Run("stranger defines and issues together", func(t *testing.T) {
		s := NewLedgerStatus()
		e := mustEffect(t, c, txn(defineOp(t, issuer, code), issueOp(t, other, code, 0, r0)))
		assert.ErrorIs(t, s.Validate(e), ErrUnauthorizedIssuer)
	})

	t.Run("duplicate definition", func(t *testing.T) {
		s := NewLedgerStatus()
		mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code)))
		e := mustEffect(t, c, txn(defineOp(t, other, code)))
		assert.ErrorIs(t, s.Validate(e), ErrDuplicateAssetDefinition)
	})
}

func TestRejectionLeavesStatusUntouched(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	gold, silver := newCode(t, "gold"), newCode(t, "silver")
	r0, r1 := record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1)
	mustApplyStatus(t, s, c, txn(defineOp(t, issuer, gold), issueOp(t, issuer, gold, 0, r0)))

	before, err := data.Encode(s)
	require.NoError(t, err)

	// a fresh definition and issuance ahead of a spend of a missing output
	e := mustEffect(t, c, txn(
		defineOp(t, issuer, silver),
		issueOp(t, issuer, silver, 0, r1),
		transferOp(t, nil, []data.TxoRef{data.AbsoluteRef(42)}, []xfr.Record{r0}, nil),
	))
	_, _, err = s.ApplyTxnEffects(e)
	require.ErrorIs(t, err, ErrUnknownOrSpentInput)

	after, err := data.Encode(s)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, ok := s.GetAssetType(silver)
	assert.False(t, ok)
}

func TestValidateNilEffect(t *testing.T) {
	assert.ErrorIs(t, NewLedgerStatus().Validate(nil), ErrMalformedInput)
}

func TestUpdateAssetMemo(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	code := newCode(t, "gold")

	assert.ErrorIs(t, s.UpdateAssetMemo(code, "x"), ErrUnknownAsset)
	mustApplyStatus(t, s, c, txn(defineOp(t, issuer, code)))
	assert.ErrorIs(t, s.UpdateAssetMemo(code, "x"), ErrNotEnforced)

	at, ok := s.GetAssetType(code)
	require.True(t, ok)
	assert.Equal(t, "test asset", at.Properties.Memo)
	assert.Equal(t, issuer.PublicKey(), at.Properties.Issuer)
}

func TestUtxoMapVersionsAreBounded(t *testing.T) {
	s := NewLedgerStatus()
	for i := 0; i < MaxVersion+50; i++ {
		s.nextTxn = data.TxnSID(i)
		s.pushUtxoMapVersion(digest.Hash(digest.Uint64(uint64(i))))
	}
	versions := s.UtxoMapVersions()
	require.Len(t, versions, MaxVersion)
	assert.Equal(t, data.TxnSID(50), versions[0].TxnSID)
	assert.Equal(t, data.TxnSID(MaxVersion+49), versions[MaxVersion-1].TxnSID)

	_, ok := s.GetUtxoChecksum(49)
	assert.False(t, ok)
	sum, ok := s.GetUtxoChecksum(77)
	require.True(t, ok)
	assert.Equal(t, digest.Hash(digest.Uint64(77)), sum)
}

func TestAdvanceGlobalHashChains(t *testing.T) {
	s := NewLedgerStatus()
	bm := digest.Hash([]byte("bitmap"))
	root := digest.Hash([]byte("root"))

	s.advanceGlobalHash(bm, root)
	first, count := s.GetGlobalHash()
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, digest.Hash(bm[:], root[:], digest.Uint64(0), make([]byte, digest.Size)), first)

	s.advanceGlobalHash(bm, root)
	second, count := s.GetGlobalHash()
	assert.Equal(t, uint64(2), count)
	assert.NotEqual(t, first, second)
	assert.Equal(t, digest.Hash(bm[:], root[:], digest.Uint64(1), first[:]), second)
}

func TestStatusSnapshotRoundTrip(t *testing.T) {
	c := NewEffectCompiler(acceptVerifier{})
	s := NewLedgerStatus()
	issuer := newKeyPair(t)
	gold, silver := newCode(t, "gold"), newCode(t, "silver")
	mustApplyStatus(t, s, c, txn(
		defineOp(t, issuer, gold),
		defineOp(t, issuer, silver),
		issueOp(t, issuer, gold, 3, record(issuer.PublicKey(), 0), record(issuer.PublicKey(), 1)),
	))
	mustApplyStatus(t, s, c, txn(issueOp(t, issuer, silver, 0, record(issuer.PublicKey(), 2))))
	s.pushUtxoMapVersion(digest.Hash([]byte("one")))
	s.advanceGlobalHash(digest.Hash([]byte("one")), digest.Hash([]byte("root")))

	for _, orig := range []*LedgerStatus{NewLedgerStatus(), s} {
		b, err := data.Encode(orig)
		require.NoError(t, err)

		back := NewLedgerStatus()
		require.NoError(t, data.Decode(b, back))
		assert.Equal(t, orig, back)

		again, err := data.Encode(back)
		require.NoError(t, err)
		assert.Equal(t, b, again)
	}
}

func TestStatusSnapshotRejectsInconsistentCounters(t *testing.T) {
	issuer := newKeyPair(t)
	u, err := data.NewUtxo(record(issuer.PublicKey(), 0))
	require.NoError(t, err)

	b, err := data.Encode(statusWire{
		Utxos:   []utxoEntry{{SID: 4, Utxo: u}},
		NextTxn: 1,
		NextTxo: 4,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, data.Decode(b, NewLedgerStatus()), ErrIntegrity)

	b, err = data.Encode(statusWire{
		Utxos:   []utxoEntry{{SID: 1, Utxo: u}, {SID: 1, Utxo: u}},
		NextTxn: 1,
		NextTxo: 4,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, data.Decode(b, NewLedgerStatus()), ErrDeserialization)
}
