// state.go - Durable commit pipeline.
//
// LedgerState owns the files behind a LedgerStatus: the Merkle tree of
// transaction leaves with its log segments, the UTXO bitmap, the transaction
// log and the status snapshot. ApplyTransaction runs status validation and
// mutation, then extends bitmap, Merkle tree and transaction log. A write
// failure after the status has advanced poisons the LedgerState; the owner is
// expected to stop and recover through Load.

package store

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"utxoledger/internal/bitmap"
	"utxoledger/internal/data"
	"utxoledger/internal/digest"
	"utxoledger/internal/fsutil"
	"utxoledger/internal/merkle"
)

// Paths names the files of one ledger.
type Paths struct {
	Merkle   string
	Txn      string
	UtxoMap  string
	Snapshot string
}

// PathsIn returns the default file names inside dir.
func PathsIn(dir string) Paths {
	return Paths{
		Merkle:   filepath.Join(dir, "txn_merkle"),
		Txn:      filepath.Join(dir, "txn_log"),
		UtxoMap:  filepath.Join(dir, "utxo_map"),
		Snapshot: filepath.Join(dir, "ledger_status"),
	}
}

// Exists reports whether a ledger snapshot is present at p.
func (p Paths) Exists() bool {
	_, err := os.Stat(p.Snapshot)
	return err == nil
}

type options struct {
	logger zerolog.Logger
}

// Option configures New and Load.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SnapshotID identifies the Merkle log segment a snapshot started.
type SnapshotID struct {
	ID uint64
}

// LedgerState is the single-writer ledger. It is not safe for concurrent
// use; callers serialize access (see internal/ledger).
type LedgerState struct {
	paths  Paths
	log    zerolog.Logger
	status *LedgerStatus
	merkle *merkle.Logged
	utxos  *bitmap.BitMap
	txnLog *txnLog
	txs    []data.FinalizedTransaction

	poisoned error
}

// New creates an empty ledger. None of the files may exist yet. On failure
// the files created so far are removed again.
func New(paths Paths, opts ...Option) (*LedgerState, error) {
	o := buildOptions(opts)
	s := &LedgerState{paths: paths, log: o.logger, status: NewLedgerStatus()}

	// Step 1: the snapshot goes first so a second New on the same paths fails
	// before touching anything else
	snap, err := data.Encode(s.status)
	if err != nil {
		return nil, wrapError(KindSerialization, err, "encode initial status")
	}
	if err := fsutil.CreateExclusive(paths.Snapshot, snap); err != nil {
		return nil, wrapError(KindIo, err, "create snapshot %s", paths.Snapshot)
	}
	created := []string{paths.Snapshot}
	fail := func(err *Error) (*LedgerState, error) {
		s.Close()
		for _, p := range created {
			if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Warn().Err(rmErr).Str("path", p).Msg("failed to remove partial ledger file")
			}
		}
		return nil, err
	}

	// Step 2: empty Merkle tree, bitmap and transaction log
	tree, err := merkle.Create(paths.Merkle)
	if err != nil {
		return fail(wrapError(KindIo, err, "create merkle tree"))
	}
	created = append(created, paths.Merkle)
	if s.merkle, err = merkle.NewLogged(tree); err != nil {
		tree.Close()
		return fail(wrapError(KindIo, err, "start merkle log"))
	}
	created = append(created, merkle.SegmentPath(paths.Merkle, 0))
	if s.utxos, err = bitmap.Create(paths.UtxoMap); err != nil {
		return fail(wrapError(KindIo, err, "create utxo map"))
	}
	created = append(created, paths.UtxoMap)
	if s.txnLog, err = createTxnLog(paths.Txn); err != nil {
		return fail(wrapError(KindIo, err, "create transaction log"))
	}

	s.log.Info().Str("dir", filepath.Dir(paths.Snapshot)).Msg("created ledger")
	return s, nil
}

// Load restores a ledger from its snapshot and logs.
// Steps:
//  1. Decode the status snapshot
//  2. Open the Merkle tree and replay leaves missing from its file
//  3. Read the transaction log, cutting off a torn tail
//  4. Check that snapshot, transaction log, Merkle tree and bitmap agree
func Load(paths Paths, opts ...Option) (*LedgerState, error) {
	o := buildOptions(opts)
	s := &LedgerState{paths: paths, log: o.logger}

	// Step 1
	raw, err := os.ReadFile(paths.Snapshot)
	if err != nil {
		return nil, wrapError(KindIo, err, "read snapshot %s", paths.Snapshot)
	}
	s.status = NewLedgerStatus()
	if err := data.Decode(raw, s.status); err != nil {
		if KindOf(err) != KindUnknown {
			return nil, err
		}
		return nil, wrapError(KindDeserialization, err, "decode snapshot %s", paths.Snapshot)
	}

	// Step 2
	tree, err := merkle.Open(paths.Merkle)
	if err != nil {
		return nil, wrapError(KindIo, err, "open merkle tree")
	}
	recovered, err := merkle.Replay(tree)
	if err != nil {
		tree.Close()
		return nil, wrapError(KindIo, err, "replay merkle log")
	}
	if recovered > 0 {
		s.log.Warn().Int("leaves", recovered).Msg("recovered merkle leaves from log")
	}

	// Step 3
	txl, txs, torn, err := openTxnLog(paths.Txn)
	if err != nil {
		tree.Close()
		return nil, wrapError(KindDeserialization, err, "load transaction log")
	}
	if torn {
		s.log.Warn().Int("records", len(txs)).Msg("dropped torn transaction log record")
	}
	s.txnLog, s.txs = txl, txs

	if s.utxos, err = bitmap.Open(paths.UtxoMap); err != nil {
		tree.Close()
		txl.close()
		return nil, wrapError(KindIo, err, "open utxo map")
	}

	// Step 4
	if err := s.checkIntegrity(tree); err != nil {
		tree.Close()
		txl.close()
		return nil, err
	}
	if s.merkle, err = merkle.NewLogged(tree); err != nil {
		tree.Close()
		txl.close()
		return nil, wrapError(KindIo, err, "start merkle log")
	}

	hash, count := s.status.GetGlobalHash()
	s.log.Info().
		Uint64("next_txn", uint64(s.status.NextTxn())).
		Uint64("next_txo", uint64(s.status.NextTxo())).
		Str("global_hash", hash.String()).
		Uint64("commit_count", count).
		Msg("loaded ledger")
	return s, nil
}

func (s *LedgerState) checkIntegrity(tree *merkle.Tree) error {
	nextTxn := uint64(s.status.NextTxn())
	if uint64(len(s.txs)) != nextTxn {
		return newError(KindIntegrity, "transaction log holds %d transactions, snapshot expects %d", len(s.txs), nextTxn)
	}
	if tree.Size() != nextTxn {
		return newError(KindIntegrity, "merkle tree holds %d leaves, snapshot expects %d", tree.Size(), nextTxn)
	}
	for i := range s.txs {
		ft := &s.txs[i]
		if uint64(ft.TxnSID) != uint64(i) || ft.MerkleID != uint64(i) {
			return newError(KindIntegrity, "transaction log record %d claims sid %d at leaf %d", i, ft.TxnSID, ft.MerkleID)
		}
		leaf, err := ft.Txn.MerkleHash(ft.TxnSID)
		if err != nil {
			return wrapError(KindSerialization, err, "hash transaction %d", i)
		}
		proof, err := tree.Proof(ft.MerkleID)
		if err != nil {
			return wrapError(KindIntegrity, err, "proof for transaction %d", i)
		}
		if !proof.Verify(leaf) {
			return newError(KindIntegrity, "transaction %d does not match its merkle leaf", i)
		}
	}

	nextTxo := uint64(s.status.NextTxo())
	if s.utxos.Len() != nextTxo {
		return newError(KindIntegrity, "utxo map covers %d slots, snapshot expects %d", s.utxos.Len(), nextTxo)
	}
	if s.utxos.Count() != uint64(s.status.UtxoCount()) {
		return newError(KindIntegrity, "utxo map has %d unspent slots, snapshot has %d", s.utxos.Count(), s.status.UtxoCount())
	}
	for sid := range s.status.utxos {
		if !s.utxos.Test(uint64(sid)) {
			return newError(KindIntegrity, "unspent output %d is clear in the utxo map", sid)
		}
	}
	return nil
}

// Validate checks effect against the current state without applying it.
func (s *LedgerState) Validate(effect *TxnEffect) error {
	return s.status.Validate(effect)
}

// ApplyTransaction commits effect. It returns the transaction's SID and the
// SIDs of its unspent outputs. Rejections leave the ledger untouched; errors
// for which IsFatal holds mean the ledger is poisoned.
// Steps:
//  1. Validate and prepare the log record while nothing has changed
//  2. Apply the effect to the status
//  3. Mark the allocated slots in the bitmap and clear the spent inputs
//  4. Append the Merkle leaf and the transaction log record
func (s *LedgerState) ApplyTransaction(effect *TxnEffect) (data.TxnSID, []data.TxoSID, error) {
	if s.poisoned != nil {
		return 0, nil, wrapError(KindPoisoned, s.poisoned, "ledger refuses writes")
	}

	// Step 1
	if err := s.status.Validate(effect); err != nil {
		s.reject(err)
		return 0, nil, err
	}
	sid := s.status.NextTxn()
	merkleID := s.merkle.State()
	leaf, err := effect.Txn.MerkleHash(sid)
	if err != nil {
		return 0, nil, wrapError(KindSerialization, err, "hash transaction %d", sid)
	}
	ft := data.FinalizedTransaction{Txn: *effect.Txn, TxnSID: sid, MerkleID: merkleID}
	record, err := data.Encode(ft)
	if err != nil {
		return 0, nil, wrapError(KindSerialization, err, "encode transaction %d", sid)
	}

	// Step 2
	base := s.status.NextTxo()
	txnSID, txos, err := s.status.ApplyTxnEffects(effect)
	if err != nil {
		s.reject(err)
		return 0, nil, err
	}
	end := s.status.NextTxo()

	// Step 3
	if err := s.markSlots(base, end, txos); err != nil {
		return 0, nil, s.poison(err)
	}
	if err := s.clearSpent(base, sortedSIDs(effect.InputTxos)); err != nil {
		return 0, nil, s.poison(err)
	}

	// Step 4
	index, err := s.merkle.Append(leaf)
	if err != nil {
		return 0, nil, s.poison(wrapError(KindIo, err, "append merkle leaf for transaction %d", txnSID))
	}
	if index != merkleID {
		return 0, nil, s.poison(newError(KindInvariantViolation, "merkle leaf landed at %d, expected %d", index, merkleID))
	}
	if err := s.txnLog.append(record); err != nil {
		return 0, nil, s.poison(wrapError(KindIo, err, "log transaction %d", txnSID))
	}
	s.txs = append(s.txs, ft)

	s.log.Debug().
		Uint64("txn_sid", uint64(txnSID)).
		Int("outputs", len(txos)).
		Uint64("merkle_id", merkleID).
		Msg("applied transaction")
	return txnSID, txos, nil
}

// markSlots sets every slot in [base, end) and clears those not in unspent.
func (s *LedgerState) markSlots(base, end data.TxoSID, unspent []data.TxoSID) error {
	prev := base
	for i, sid := range unspent {
		if sid < prev || sid >= end || (i > 0 && sid == prev) {
			return newError(KindInvariantViolation, "output %d outside allocated range [%d, %d) or out of order", sid, base, end)
		}
		prev = sid
	}
	for slot := base; slot < end; slot++ {
		s.utxos.Set(uint64(slot))
	}
	next := 0
	for slot := base; slot < end; slot++ {
		if next < len(unspent) && unspent[next] == slot {
			next++
			continue
		}
		s.utxos.Clear(uint64(slot))
	}
	return nil
}

// clearSpent clears the slots of committed outputs consumed by the
// transaction. All of them must lie below base.
func (s *LedgerState) clearSpent(base data.TxoSID, spent []data.TxoSID) error {
	for _, sid := range spent {
		if sid >= base {
			return newError(KindInvariantViolation, "spent output %d was not committed before %d", sid, base)
		}
	}
	for _, sid := range spent {
		s.utxos.Clear(uint64(sid))
	}
	return nil
}

func (s *LedgerState) reject(err error) {
	s.log.Debug().
		Str("kind", KindOf(err).String()).
		Err(err).
		Msg("rejected transaction")
}

// poison marks the ledger unusable and returns err as a fatal error.
func (s *LedgerState) poison(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = wrapError(KindInvariantViolation, err, "commit pipeline")
	}
	e.Fatal = true
	s.poisoned = e
	s.log.Error().
		Str("kind", e.Kind.String()).
		Err(e).
		Msg("ledger poisoned")
	return e
}

// Err returns the failure that poisoned the ledger, or nil.
func (s *LedgerState) Err() error { return s.poisoned }

// Checkpoint records the bitmap checksum for the current transaction count
// and chains a new global hash onto the previous one.
func (s *LedgerState) Checkpoint() (digest.Digest, error) {
	if s.poisoned != nil {
		return digest.Digest{}, wrapError(KindPoisoned, s.poisoned, "ledger refuses checkpoints")
	}
	checksum := s.utxos.Checksum()
	s.status.pushUtxoMapVersion(checksum)
	s.status.advanceGlobalHash(checksum, s.merkle.Root())

	hash, count := s.status.GetGlobalHash()
	s.log.Info().
		Str("global_hash", hash.String()).
		Uint64("commit_count", count).
		Uint64("next_txn", uint64(s.status.NextTxn())).
		Msg("checkpoint")
	return hash, nil
}

// Snapshot seals the Merkle log segment, flushes the bitmap and transaction
// log, and writes the status snapshot. The returned identifier is the Merkle
// tree size the new log segment starts at.
func (s *LedgerState) Snapshot() (SnapshotID, error) {
	if s.poisoned != nil {
		return SnapshotID{}, wrapError(KindPoisoned, s.poisoned, "ledger refuses snapshots")
	}
	size, err := s.merkle.Snapshot()
	if err != nil {
		return SnapshotID{}, s.poison(wrapError(KindIo, err, "seal merkle log"))
	}
	if err := s.utxos.Flush(); err != nil {
		return SnapshotID{}, s.poison(wrapError(KindIo, err, "flush utxo map"))
	}
	if err := s.txnLog.sync(); err != nil {
		return SnapshotID{}, s.poison(wrapError(KindIo, err, "sync transaction log"))
	}
	snap, err := data.Encode(s.status)
	if err != nil {
		return SnapshotID{}, wrapError(KindSerialization, err, "encode status")
	}
	if err := fsutil.WriteFileAtomic(s.paths.Snapshot, snap); err != nil {
		return SnapshotID{}, s.poison(wrapError(KindIo, err, "write snapshot"))
	}

	s.log.Info().
		Uint64("snapshot_id", size).
		Uint64("next_txn", uint64(s.status.NextTxn())).
		Msg("snapshot")
	return SnapshotID{ID: size}, nil
}

// Close releases the ledger's files without writing a snapshot.
func (s *LedgerState) Close() error {
	var errs []error
	if s.merkle != nil {
		if err := s.merkle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.txnLog != nil {
		if err := s.txnLog.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return wrapError(KindIo, err, "close ledger")
	}
	return nil
}

// Status exposes the in-memory status for read-only use.
func (s *LedgerState) Status() *LedgerStatus { return s.status }

// Paths returns the files backing the ledger.
func (s *LedgerState) Paths() Paths { return s.paths }

func (s *LedgerState) GetUtxo(sid data.TxoSID) (data.Utxo, bool) {
	return s.status.GetUtxo(sid)
}

func (s *LedgerState) GetIssuanceNum(code data.AssetTypeCode) (uint64, bool) {
	return s.status.GetIssuanceNum(code)
}

func (s *LedgerState) GetAssetType(code data.AssetTypeCode) (data.AssetType, bool) {
	return s.status.GetAssetType(code)
}

// GetTransaction returns a copy of transaction sid; callers may modify it.
func (s *LedgerState) GetTransaction(sid data.TxnSID) (data.FinalizedTransaction, bool) {
	if uint64(sid) >= uint64(len(s.txs)) {
		return data.FinalizedTransaction{}, false
	}
	ft := s.txs[sid]
	txn, err := ft.Txn.Clone()
	if err != nil {
		return data.FinalizedTransaction{}, false
	}
	ft.Txn = *txn
	return ft, true
}

// GetProof proves transaction sid against the current Merkle root.
func (s *LedgerState) GetProof(sid data.TxnSID) (*merkle.Proof, bool) {
	if uint64(sid) >= uint64(len(s.txs)) {
		return nil, false
	}
	proof, err := s.merkle.Proof(s.txs[sid].MerkleID)
	if err != nil {
		return nil, false
	}
	return proof, true
}

func (s *LedgerState) GetUtxoMap() *bitmap.View { return s.utxos.View() }

func (s *LedgerState) GetUtxoChecksum(version uint64) (digest.Digest, bool) {
	return s.status.GetUtxoChecksum(version)
}

func (s *LedgerState) GetGlobalHash() (digest.Digest, uint64) {
	return s.status.GetGlobalHash()
}

func (s *LedgerState) NextTxn() data.TxnSID { return s.status.NextTxn() }

func (s *LedgerState) NextTxo() data.TxoSID { return s.status.NextTxo() }
