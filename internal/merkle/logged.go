// logged.go - Merkle tree with a rotating append log.
//
// Every append is mirrored into the current log segment, a CBOR stream of
// LogEntry records stored at <tree path>-log-<tree size at rotation>. A
// snapshot syncs the tree file and starts a new segment, which bounds how much
// log a recovery has to replay.

package merkle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"utxoledger/internal/digest"
)

// LogEntry records one appended leaf.
type LogEntry struct {
	Index uint64        `cbor:"1,keyasint"`
	Leaf  digest.Digest `cbor:"2,keyasint"`
}

// Logged couples a Tree with its current log segment.
type Logged struct {
	tree *Tree
	log  *os.File
	enc  *cbor.Encoder
}

// SegmentPath names the log segment that starts at the given tree size.
func SegmentPath(treePath string, size uint64) string {
	return treePath + "-log-" + strconv.FormatUint(size, 10)
}

// NewLogged starts a fresh log segment keyed by the tree's current size.
func NewLogged(tree *Tree) (*Logged, error) {
	l := &Logged{tree: tree}
	if err := l.rotate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logged) rotate() error {
	path := SegmentPath(l.tree.Path(), l.tree.Size())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("merkle: open log segment %s: %w", path, err)
	}
	if l.log != nil {
		if err := l.log.Close(); err != nil {
			f.Close()
			return fmt.Errorf("merkle: close log segment: %w", err)
		}
	}
	l.log = f
	l.enc = cbor.NewEncoder(f)
	return nil
}

// Append adds leaf to the tree and then to the current segment.
func (l *Logged) Append(leaf digest.Digest) (uint64, error) {
	index, err := l.tree.Append(leaf)
	if err != nil {
		return 0, err
	}
	if err := l.enc.Encode(LogEntry{Index: index, Leaf: leaf}); err != nil {
		return index, fmt.Errorf("merkle: write log entry %d: %w", index, err)
	}
	if err := l.log.Sync(); err != nil {
		return index, fmt.Errorf("merkle: sync log entry %d: %w", index, err)
	}
	return index, nil
}

// Snapshot syncs the tree and opens a new segment, returning the tree size
// the new segment is keyed by.
func (l *Logged) Snapshot() (uint64, error) {
	if err := l.tree.Sync(); err != nil {
		return 0, fmt.Errorf("merkle: sync tree: %w", err)
	}
	if err := l.log.Sync(); err != nil {
		return 0, fmt.Errorf("merkle: sync log segment: %w", err)
	}
	state := l.tree.Size()
	if err := l.rotate(); err != nil {
		return 0, err
	}
	return state, nil
}

// State is the current tree size.
func (l *Logged) State() uint64 { return l.tree.Size() }

func (l *Logged) Root() digest.Digest { return l.tree.Root() }

func (l *Logged) Proof(index uint64) (*Proof, error) { return l.tree.Proof(index) }

func (l *Logged) Close() error {
	var errs []error
	if l.log != nil {
		errs = append(errs, l.log.Close())
		l.log = nil
	}
	errs = append(errs, l.tree.Close())
	return errors.Join(errs...)
}

// ReadLog decodes a log segment. A torn trailing record ends the segment.
func ReadLog(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("merkle: open log segment %s: %w", path, err)
	}
	defer f.Close()

	var entries []LogEntry
	dec := cbor.NewDecoder(f)
	for {
		var e LogEntry
		err := dec.Decode(&e)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("merkle: decode log segment %s: %w", path, err)
		}
		entries = append(entries, e)
	}
}

// Segments lists the log segments of a tree ordered by starting size.
func Segments(treePath string) ([]string, error) {
	matches, err := filepath.Glob(treePath + "-log-*")
	if err != nil {
		return nil, err
	}
	type seg struct {
		path string
		size uint64
	}
	var segs []seg
	prefix := treePath + "-log-"
	for _, m := range matches {
		size, err := strconv.ParseUint(strings.TrimPrefix(m, prefix), 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, seg{m, size})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].size < segs[j].size })
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.path
	}
	return out, nil
}

// Replay appends logged leaves that the tree file is missing. It returns how
// many leaves were recovered.
func Replay(tree *Tree) (int, error) {
	segs, err := Segments(tree.Path())
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, path := range segs {
		entries, err := ReadLog(path)
		if err != nil {
			return recovered, err
		}
		for _, e := range entries {
			switch {
			case e.Index < tree.Size():
				continue
			case e.Index > tree.Size():
				return recovered, fmt.Errorf("merkle: log segment %s skips from %d to %d", path, tree.Size(), e.Index)
			}
			if _, err := tree.Append(e.Leaf); err != nil {
				return recovered, err
			}
			recovered++
		}
	}
	return recovered, nil
}
