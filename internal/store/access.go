package store

import (
	"utxoledger/internal/bitmap"
	"utxoledger/internal/data"
	"utxoledger/internal/digest"
	"utxoledger/internal/merkle"
)

// LedgerAccess answers questions about current state.
type LedgerAccess interface {
	GetUtxo(sid data.TxoSID) (data.Utxo, bool)
	GetIssuanceNum(code data.AssetTypeCode) (uint64, bool)
	GetAssetType(code data.AssetTypeCode) (data.AssetType, bool)
}

// ArchiveAccess answers questions about committed history.
type ArchiveAccess interface {
	GetTransaction(sid data.TxnSID) (data.FinalizedTransaction, bool)
	GetProof(sid data.TxnSID) (*merkle.Proof, bool)
	GetUtxoMap() *bitmap.View
	GetUtxoChecksum(version uint64) (digest.Digest, bool)
	GetGlobalHash() (digest.Digest, uint64)
}

var (
	_ LedgerAccess  = (*LedgerStatus)(nil)
	_ LedgerAccess  = (*LedgerState)(nil)
	_ ArchiveAccess = (*LedgerState)(nil)
)
