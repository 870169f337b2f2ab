// txnlog.go - Append-only log of finalized transactions.
//
// The log is a stream of CBOR-encoded FinalizedTransaction records. Each
// append is written and synced in one call, so a crash can only leave a torn
// final record, which openTxnLog cuts off.

package store

import (
	"errors"
	"fmt"
	"io"
	"os"

	"utxoledger/internal/data"
)

type txnLog struct {
	path string
	f    *os.File
}

// createTxnLog makes a new, empty log. It fails if path exists.
func createTxnLog(path string) (*txnLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create transaction log %s: %w", path, err)
	}
	return &txnLog{path: path, f: f}, nil
}

// readTxnLog decodes every complete record of the log at path. It returns the
// records, the byte length they occupy, and whether a torn record follows.
func readTxnLog(path string) ([]data.FinalizedTransaction, int64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, false, fmt.Errorf("open transaction log %s: %w", path, err)
	}
	defer f.Close()

	var txs []data.FinalizedTransaction
	var valid int64
	dec := data.NewDecoder(f)
	for {
		var ft data.FinalizedTransaction
		err := dec.Decode(&ft)
		if err == io.EOF {
			return txs, valid, false, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return txs, valid, true, nil
		}
		if err != nil {
			return txs, valid, false, fmt.Errorf("decode transaction log record %d: %w", len(txs), err)
		}
		txs = append(txs, ft)
		valid = int64(dec.NumBytesRead())
	}
}

// openTxnLog reads the log at path, truncates a torn trailing record and
// reopens the file for appending.
func openTxnLog(path string) (*txnLog, []data.FinalizedTransaction, bool, error) {
	txs, valid, torn, err := readTxnLog(path)
	if err != nil {
		return nil, nil, false, err
	}
	if torn {
		if err := os.Truncate(path, valid); err != nil {
			return nil, nil, false, fmt.Errorf("truncate torn transaction log record: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open transaction log %s: %w", path, err)
	}
	return &txnLog{path: path, f: f}, txs, torn, nil
}

// append writes one encoded record and syncs it.
func (l *txnLog) append(record []byte) error {
	if _, err := l.f.Write(record); err != nil {
		return fmt.Errorf("write transaction log: %w", err)
	}
	return l.sync()
}

func (l *txnLog) sync() error {
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync transaction log: %w", err)
	}
	return nil
}

func (l *txnLog) close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
