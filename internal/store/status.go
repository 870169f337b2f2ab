// status.go - Serializable global ledger state.
//
// LedgerStatus applies effects in two stages. Validate checks the effect
// against current state without touching it; only when every check passes
// does the mutation stage run, and that stage cannot fail. A rejected
// transaction therefore never leaves partial changes behind.

package store

import (
	"utxoledger/internal/data"
	"utxoledger/internal/digest"
)

// MaxVersion bounds the history of bitmap checksums kept for readers.
const MaxVersion = 100

// UtxoMapVersion records the bitmap checksum after a checkpoint.
type UtxoMapVersion struct {
	TxnSID   data.TxnSID   `cbor:"1,keyasint"`
	Checksum digest.Digest `cbor:"2,keyasint"`
}

// LedgerStatus is the global state that snapshots persist.
type LedgerStatus struct {
	utxos             map[data.TxoSID]data.Utxo
	utxoMapVersions   []UtxoMapVersion
	assetTypes        map[data.AssetTypeCode]data.AssetType
	issuanceNum       map[data.AssetTypeCode]uint64
	nextTxn           data.TxnSID
	nextTxo           data.TxoSID
	globalHash        digest.Digest
	globalCommitCount uint64
}

// NewLedgerStatus returns the state of an empty ledger.
func NewLedgerStatus() *LedgerStatus {
	return &LedgerStatus{
		utxos:       make(map[data.TxoSID]data.Utxo),
		assetTypes:  make(map[data.AssetTypeCode]data.AssetType),
		issuanceNum: make(map[data.AssetTypeCode]uint64),
	}
}

// applyPlan is everything the mutation stage needs, prepared by Validate.
type applyPlan struct {
	utxos []data.Utxo // parallel to effect.Txos, zero for consumed slots
}

// Validate checks effect against the current state without changing it.
func (s *LedgerStatus) Validate(effect *TxnEffect) error {
	_, err := s.prepare(effect)
	return err
}

func (s *LedgerStatus) prepare(e *TxnEffect) (*applyPlan, error) {
	if e == nil || e.Txn == nil {
		return nil, newError(KindMalformedInput, "nil effect")
	}

	// Step 1: committed inputs exist and hold the claimed records
	for _, sid := range sortedSIDs(e.InputTxos) {
		u, ok := s.utxos[sid]
		if !ok {
			return nil, newError(KindUnknownOrSpentInput, "output %d is not unspent", sid)
		}
		if u.Record != e.InputTxos[sid] {
			return nil, newError(KindUnknownOrSpentInput, "output %d holds a different record than claimed", sid)
		}
	}

	// Step 2: new asset types are really new
	for _, code := range sortedCodes(e.NewAssetCodes) {
		if _, ok := s.assetTypes[code]; ok {
			return nil, newError(KindDuplicateAssetDefinition, "asset %s is already defined", code)
		}
		if _, ok := s.issuanceNum[code]; ok {
			return nil, newError(KindDuplicateAssetDefinition, "asset %s already has issuances", code)
		}
	}

	// Step 3: issuances move the watermark forward and come from the issuer
	for _, code := range sortedCodes(e.NewIssuanceNums) {
		seqs := e.NewIssuanceNums[code]
		defined, isNew := e.NewAssetCodes[code]
		if len(seqs) == 0 {
			if !isNew {
				return nil, newError(KindMalformedInput, "empty issuance list for asset %s not defined here", code)
			}
			continue
		}
		watermark, ok := s.issuanceNum[code]
		if !ok && !isNew {
			return nil, newError(KindUnknownAsset, "asset %s is not defined", code)
		}
		if seqs[0] < watermark {
			return nil, newError(KindReplayedIssuance, "asset %s: sequence number %d is below the next allowed %d", code, seqs[0], watermark)
		}
		issuer := defined.Properties.Issuer
		if registered, ok := s.assetTypes[code]; ok {
			issuer = registered.Properties.Issuer
		}
		if key, ok := e.IssuanceKeys[code]; !ok || key != issuer {
			return nil, newError(KindUnauthorizedIssuer, "asset %s may only be issued by %s", code, issuer)
		}
	}

	// Step 4: digests of the new outputs
	plan := &applyPlan{utxos: make([]data.Utxo, len(e.Txos))}
	for i, rec := range e.Txos {
		if rec == nil {
			continue
		}
		u, err := data.NewUtxo(*rec)
		if err != nil {
			return nil, wrapError(KindSerialization, err, "digest of output %d", i)
		}
		plan.utxos[i] = u
	}
	return plan, nil
}

// ApplyTxnEffects validates effect and, if it passes, applies it. It returns
// the transaction's SID and the SIDs of its unspent outputs in ascending
// order, all within [NextTxo before the call, NextTxo after the call).
func (s *LedgerStatus) ApplyTxnEffects(e *TxnEffect) (data.TxnSID, []data.TxoSID, error) {
	plan, err := s.prepare(e)
	if err != nil {
		return 0, nil, err
	}

	txnSID := s.nextTxn
	base := s.nextTxo
	s.nextTxn++
	s.nextTxo += data.TxoSID(len(e.Txos))

	for sid := range e.InputTxos {
		delete(s.utxos, sid)
	}

	sids := make([]data.TxoSID, 0, len(e.Txos))
	for i, rec := range e.Txos {
		if rec == nil {
			continue
		}
		sid := base + data.TxoSID(i)
		s.utxos[sid] = plan.utxos[i]
		sids = append(sids, sid)
	}

	for code, seqs := range e.NewIssuanceNums {
		if n := len(seqs); n > 0 {
			s.issuanceNum[code] = seqs[n-1] + 1
		} else {
			s.issuanceNum[code] = 0
		}
	}
	for code, at := range e.NewAssetCodes {
		s.assetTypes[code] = at
	}
	return txnSID, sids, nil
}

// UpdateAssetMemo is the hook for updating an updatable asset's memo.
// Asset updates are not enforced by this ledger yet.
func (s *LedgerStatus) UpdateAssetMemo(code data.AssetTypeCode, memo string) error {
	at, ok := s.assetTypes[code]
	if !ok {
		return newError(KindUnknownAsset, "asset %s is not defined", code)
	}
	if !at.Properties.Updatable {
		return newError(KindNotEnforced, "asset %s is not updatable", code)
	}
	return newError(KindNotEnforced, "memo updates for asset %s are not enforced yet", code)
}

// pushUtxoMapVersion records checksum for the current transaction count,
// dropping the oldest entry once MaxVersion are kept.
func (s *LedgerStatus) pushUtxoMapVersion(checksum digest.Digest) {
	if n := len(s.utxoMapVersions); n >= MaxVersion {
		copy(s.utxoMapVersions, s.utxoMapVersions[1:])
		s.utxoMapVersions = s.utxoMapVersions[:n-1]
	}
	s.utxoMapVersions = append(s.utxoMapVersions, UtxoMapVersion{TxnSID: s.nextTxn, Checksum: checksum})
}

// advanceGlobalHash chains a new global hash onto the previous one.
func (s *LedgerStatus) advanceGlobalHash(bitmap, merkleRoot digest.Digest) {
	s.globalHash = digest.Hash(bitmap[:], merkleRoot[:], digest.Uint64(s.globalCommitCount), s.globalHash[:])
	s.globalCommitCount++
}

func (s *LedgerStatus) GetUtxo(sid data.TxoSID) (data.Utxo, bool) {
	u, ok := s.utxos[sid]
	return u, ok
}

func (s *LedgerStatus) GetIssuanceNum(code data.AssetTypeCode) (uint64, bool) {
	n, ok := s.issuanceNum[code]
	return n, ok
}

func (s *LedgerStatus) GetAssetType(code data.AssetTypeCode) (data.AssetType, bool) {
	at, ok := s.assetTypes[code]
	return at, ok
}

// GetUtxoChecksum returns the bitmap checksum recorded when the ledger held
// version transactions.
func (s *LedgerStatus) GetUtxoChecksum(version uint64) (digest.Digest, bool) {
	for _, v := range s.utxoMapVersions {
		if uint64(v.TxnSID) == version {
			return v.Checksum, true
		}
	}
	return digest.Digest{}, false
}

// GetGlobalHash returns the latest global hash and the number of checkpoints.
func (s *LedgerStatus) GetGlobalHash() (digest.Digest, uint64) {
	return s.globalHash, s.globalCommitCount
}

func (s *LedgerStatus) NextTxn() data.TxnSID { return s.nextTxn }

func (s *LedgerStatus) NextTxo() data.TxoSID { return s.nextTxo }

func (s *LedgerStatus) UtxoCount() int { return len(s.utxos) }

// UtxoMapVersions returns a copy of the checksum history, oldest first.
func (s *LedgerStatus) UtxoMapVersions() []UtxoMapVersion {
	return append([]UtxoMapVersion(nil), s.utxoMapVersions...)
}

// checkInvariants verifies the counter relationships a snapshot must hold.
func (s *LedgerStatus) checkInvariants() error {
	for sid := range s.utxos {
		if sid >= s.nextTxo {
			return newError(KindIntegrity, "unspent output %d at or beyond next output %d", sid, s.nextTxo)
		}
	}
	if uint64(len(s.utxos)) > uint64(s.nextTxo) {
		return newError(KindIntegrity, "%d unspent outputs but only %d allocated", len(s.utxos), s.nextTxo)
	}
	if len(s.utxoMapVersions) > MaxVersion {
		return newError(KindIntegrity, "%d bitmap versions kept, at most %d allowed", len(s.utxoMapVersions), MaxVersion)
	}
	return nil
}

type utxoEntry struct {
	SID  data.TxoSID `cbor:"1,keyasint"`
	Utxo data.Utxo   `cbor:"2,keyasint"`
}

type assetEntry struct {
	Code      data.AssetTypeCode `cbor:"1,keyasint"`
	AssetType data.AssetType     `cbor:"2,keyasint"`
}

type issuanceEntry struct {
	Code data.AssetTypeCode `cbor:"1,keyasint"`
	Next uint64             `cbor:"2,keyasint"`
}

// statusWire is the snapshot form of LedgerStatus. Maps are written as
// slices sorted by key so equal states encode to equal bytes.
type statusWire struct {
	Utxos             []utxoEntry      `cbor:"1,keyasint"`
	UtxoMapVersions   []UtxoMapVersion `cbor:"2,keyasint"`
	AssetTypes        []assetEntry     `cbor:"3,keyasint"`
	IssuanceNum       []issuanceEntry  `cbor:"4,keyasint"`
	NextTxn           data.TxnSID      `cbor:"5,keyasint"`
	NextTxo           data.TxoSID      `cbor:"6,keyasint"`
	GlobalHash        digest.Digest    `cbor:"7,keyasint"`
	GlobalCommitCount uint64           `cbor:"8,keyasint"`
}

func (s *LedgerStatus) MarshalCBOR() ([]byte, error) {
	w := statusWire{
		Utxos:             make([]utxoEntry, 0, len(s.utxos)),
		UtxoMapVersions:   s.utxoMapVersions,
		AssetTypes:        make([]assetEntry, 0, len(s.assetTypes)),
		IssuanceNum:       make([]issuanceEntry, 0, len(s.issuanceNum)),
		NextTxn:           s.nextTxn,
		NextTxo:           s.nextTxo,
		GlobalHash:        s.globalHash,
		GlobalCommitCount: s.globalCommitCount,
	}
	if w.UtxoMapVersions == nil {
		w.UtxoMapVersions = []UtxoMapVersion{}
	}
	for _, sid := range sortedSIDs(s.utxos) {
		w.Utxos = append(w.Utxos, utxoEntry{SID: sid, Utxo: s.utxos[sid]})
	}
	for _, code := range sortedCodes(s.assetTypes) {
		w.AssetTypes = append(w.AssetTypes, assetEntry{Code: code, AssetType: s.assetTypes[code]})
	}
	for _, code := range sortedCodes(s.issuanceNum) {
		w.IssuanceNum = append(w.IssuanceNum, issuanceEntry{Code: code, Next: s.issuanceNum[code]})
	}
	return data.Encode(w)
}

func (s *LedgerStatus) UnmarshalCBOR(b []byte) error {
	var w statusWire
	if err := data.Decode(b, &w); err != nil {
		return err
	}
	out := NewLedgerStatus()
	for _, e := range w.Utxos {
		if _, dup := out.utxos[e.SID]; dup {
			return newError(KindDeserialization, "unspent output %d listed twice", e.SID)
		}
		out.utxos[e.SID] = e.Utxo
	}
	for _, e := range w.AssetTypes {
		if _, dup := out.assetTypes[e.Code]; dup {
			return newError(KindDeserialization, "asset %s listed twice", e.Code)
		}
		out.assetTypes[e.Code] = e.AssetType
	}
	for _, e := range w.IssuanceNum {
		if _, dup := out.issuanceNum[e.Code]; dup {
			return newError(KindDeserialization, "issuance number of %s listed twice", e.Code)
		}
		out.issuanceNum[e.Code] = e.Next
	}
	if len(w.UtxoMapVersions) > 0 {
		out.utxoMapVersions = w.UtxoMapVersions
	}
	out.nextTxn = w.NextTxn
	out.nextTxo = w.NextTxo
	out.globalHash = w.GlobalHash
	out.globalCommitCount = w.GlobalCommitCount
	if err := out.checkInvariants(); err != nil {
		return err
	}
	*s = *out
	return nil
}
