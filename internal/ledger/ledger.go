// ledger.go - Lock-guarded ledger driven block by block.
//
// Ledger serializes writers around a store.LedgerState and lets readers in
// concurrently. Effects are computed outside the lock; ApplyBlock computes
// the effects of a whole block in parallel and then applies them in order.
// Once application starts it runs to completion regardless of the context.

package ledger

import (
	"context"
	"fmt"
	"runtime"

	"github.com/algorand/go-deadlock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"utxoledger/internal/bitmap"
	"utxoledger/internal/data"
	"utxoledger/internal/digest"
	"utxoledger/internal/merkle"
	"utxoledger/internal/store"
)

// Observer receives ledger events. Calls are made with the write lock held
// and must not call back into the Ledger.
type Observer interface {
	TxApplied(sid data.TxnSID, outputs int)
	TxRejected(kind store.Kind)
	Checkpointed(hash digest.Digest, count uint64)
	Snapshotted(id store.SnapshotID)
}

type nopObserver struct{}

func (nopObserver) TxApplied(data.TxnSID, int) {}

func (nopObserver) TxRejected(store.Kind) {}

func (nopObserver) Checkpointed(digest.Digest, uint64) {}

func (nopObserver) Snapshotted(store.SnapshotID) {}

// Options tunes a Ledger.
type Options struct {
	// Workers bounds parallel effect computation. Zero means GOMAXPROCS.
	Workers int
	// SnapshotEvery snapshots after every n-th EndBlock. Zero means every block.
	SnapshotEvery int
	Observer      Observer
	Logger        zerolog.Logger
}

// Receipt describes an applied transaction.
type Receipt struct {
	TxnSID  data.TxnSID
	Outputs []data.TxoSID
}

// BlockResult holds, per transaction of a block, either a receipt or the
// rejection.
type BlockResult struct {
	Receipts []*Receipt
	Errors   []error
}

// Applied counts the transactions that went through.
func (r *BlockResult) Applied() int {
	n := 0
	for _, rc := range r.Receipts {
		if rc != nil {
			n++
		}
	}
	return n
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       deadlock.RWMutex
	state    *store.LedgerState
	compiler *store.EffectCompiler
	opts     Options
	log      zerolog.Logger
	blocks   int
}

// New wraps state. The ledger takes ownership of state.
func New(state *store.LedgerState, compiler *store.EffectCompiler, opts Options) *Ledger {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 1
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Ledger{state: state, compiler: compiler, opts: opts, log: opts.Logger}
}

// CheckTx reports whether txn would currently be accepted, without applying it.
func (l *Ledger) CheckTx(txn *data.Transaction) error {
	effect, err := l.compiler.ComputeEffect(txn)
	if err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Validate(effect)
}

// DeliverTx validates and applies one transaction.
func (l *Ledger) DeliverTx(txn *data.Transaction) (*Receipt, error) {
	effect, err := l.compiler.ComputeEffect(txn)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.rejected(-1, err)
		return nil, err
	}
	return l.apply(-1, effect)
}

// ApplyBlock validates and applies txns in order. Rejected transactions are
// reported in the result and do not stop the block. The returned error is
// set when the context ends before application starts or the ledger fails
// fatally.
// Steps:
//  1. Compute every effect in parallel
//  2. Apply the effects in block order under the write lock
func (l *Ledger) ApplyBlock(ctx context.Context, txns []*data.Transaction) (*BlockResult, error) {
	// Step 1
	effects := make([]*store.TxnEffect, len(txns))
	errs := make([]error, len(txns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i, txn := range txns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			effects[i], errs[i] = l.compiler.ComputeEffect(txn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing effects: %w", err)
	}

	// Step 2
	res := &BlockResult{Receipts: make([]*Receipt, len(txns)), Errors: errs}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, effect := range effects {
		if errs[i] != nil {
			l.rejected(i, errs[i])
			continue
		}
		rc, err := l.apply(i, effect)
		if err != nil {
			res.Errors[i] = err
			if store.IsFatal(err) || store.KindOf(err) == store.KindPoisoned {
				return res, err
			}
			continue
		}
		res.Receipts[i] = rc
	}
	return res, nil
}

// apply runs with the write lock held.
func (l *Ledger) apply(index int, effect *store.TxnEffect) (*Receipt, error) {
	sid, outputs, err := l.state.ApplyTransaction(effect)
	if err != nil {
		if !store.IsFatal(err) && store.KindOf(err) != store.KindPoisoned {
			l.rejected(index, err)
		}
		return nil, err
	}
	l.opts.Observer.TxApplied(sid, len(outputs))
	return &Receipt{TxnSID: sid, Outputs: outputs}, nil
}

func (l *Ledger) rejected(index int, err error) {
	kind := store.KindOf(err)
	l.opts.Observer.TxRejected(kind)
	l.log.Debug().
		Int("index", index).
		Str("kind", kind.String()).
		Err(err).
		Msg("transaction rejected")
}

// EndBlock checkpoints the ledger, snapshots it when due, and returns the
// new global hash.
func (l *Ledger) EndBlock() (digest.Digest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash, err := l.state.Checkpoint()
	if err != nil {
		return digest.Digest{}, err
	}
	_, count := l.state.GetGlobalHash()
	l.opts.Observer.Checkpointed(hash, count)

	l.blocks++
	if l.blocks%l.opts.SnapshotEvery == 0 {
		id, err := l.state.Snapshot()
		if err != nil {
			return hash, err
		}
		l.opts.Observer.Snapshotted(id)
	}
	return hash, nil
}

// Snapshot forces a snapshot outside the block schedule.
func (l *Ledger) Snapshot() (store.SnapshotID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.state.Snapshot()
	if err == nil {
		l.opts.Observer.Snapshotted(id)
	}
	return id, err
}

// Err reports the failure that poisoned the underlying state, if any.
func (l *Ledger) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Err()
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Close()
}

// Counters returns the next transaction and output SIDs.
func (l *Ledger) Counters() (data.TxnSID, data.TxoSID) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.NextTxn(), l.state.NextTxo()
}

func (l *Ledger) GetUtxo(sid data.TxoSID) (data.Utxo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetUtxo(sid)
}

func (l *Ledger) GetIssuanceNum(code data.AssetTypeCode) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetIssuanceNum(code)
}

func (l *Ledger) GetAssetType(code data.AssetTypeCode) (data.AssetType, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetAssetType(code)
}

func (l *Ledger) GetTransaction(sid data.TxnSID) (data.FinalizedTransaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetTransaction(sid)
}

func (l *Ledger) GetProof(sid data.TxnSID) (*merkle.Proof, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetProof(sid)
}

func (l *Ledger) GetUtxoMap() *bitmap.View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetUtxoMap()
}

func (l *Ledger) GetUtxoChecksum(version uint64) (digest.Digest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetUtxoChecksum(version)
}

func (l *Ledger) GetGlobalHash() (digest.Digest, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.GetGlobalHash()
}

var (
	_ store.LedgerAccess  = (*Ledger)(nil)
	_ store.ArchiveAccess = (*Ledger)(nil)
)
