// tree.go - Append-only Merkle tree persisted as a flat file of leaves.
//
// The file holds the appended leaf values, 32 bytes each, in order. Interior
// nodes are rebuilt in memory on Open. A leaf is written and synced before the
// in-memory tree grows, so a crash can lose at most a torn trailing leaf,
// which Open discards.

package merkle

import (
	"errors"
	"fmt"
	"io"
	"os"

	"utxoledger/internal/digest"
)

var (
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
	ErrClosed          = errors.New("merkle: tree is closed")
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Tree is an append-only Merkle tree over digests.
// Odd nodes are promoted to the next level unchanged.
type Tree struct {
	path   string
	file   *os.File
	levels [][]digest.Digest
}

// Create makes a new, empty tree file. It fails if path already exists.
func Create(path string) (*Tree, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("merkle: create %s: %w", path, err)
	}
	return &Tree{path: path, file: f, levels: [][]digest.Digest{nil}}, nil
}

// Open loads an existing tree file and rebuilds the interior nodes.
func Open(path string) (*Tree, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("merkle: open %s: %w", path, err)
	}
	t := &Tree{path: path, file: f, levels: [][]digest.Digest{nil}}

	var buf [digest.Size]byte
	var read int64
	for {
		_, err := io.ReadFull(f, buf[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			// torn trailing leaf
			if err := f.Truncate(read); err != nil {
				f.Close()
				return nil, fmt.Errorf("merkle: truncate torn leaf: %w", err)
			}
			break
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("merkle: read %s: %w", path, err)
		}
		read += digest.Size
		t.push(digest.Digest(buf))
	}
	return t, nil
}

// Append adds a leaf and returns its index.
func (t *Tree) Append(leaf digest.Digest) (uint64, error) {
	if t.file == nil {
		return 0, ErrClosed
	}
	if _, err := t.file.Write(leaf[:]); err != nil {
		return 0, fmt.Errorf("merkle: write leaf: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return 0, fmt.Errorf("merkle: sync leaf: %w", err)
	}
	index := t.Size()
	t.push(leaf)
	return index, nil
}

// push extends the in-memory levels by one leaf, recomputing the right edge.
func (t *Tree) push(leaf digest.Digest) {
	t.levels[0] = append(t.levels[0], leafHash(leaf))
	idx := len(t.levels[0]) - 1
	for lvl := 0; len(t.levels[lvl]) > 1; lvl++ {
		if lvl+1 == len(t.levels) {
			t.levels = append(t.levels, nil)
		}
		parent := idx / 2
		val := t.levels[lvl][idx]
		if idx%2 == 1 {
			val = nodeHash(t.levels[lvl][idx-1], t.levels[lvl][idx])
		}
		if parent < len(t.levels[lvl+1]) {
			t.levels[lvl+1][parent] = val
		} else {
			t.levels[lvl+1] = append(t.levels[lvl+1], val)
		}
		idx = parent
	}
}

// Size returns the number of leaves.
func (t *Tree) Size() uint64 {
	return uint64(len(t.levels[0]))
}

// Root returns the root hash, or the zero digest for an empty tree.
func (t *Tree) Root() digest.Digest {
	if t.Size() == 0 {
		return digest.Digest{}
	}
	return t.levels[len(t.levels)-1][0]
}

// Proof returns an inclusion proof for the leaf at index.
func (t *Tree) Proof(index uint64) (*Proof, error) {
	if index >= t.Size() {
		return nil, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, t.Size())
	}
	p := &Proof{Index: index, TreeSize: t.Size(), Root: t.Root()}
	idx := int(index)
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		sib := idx ^ 1
		if sib < len(t.levels[lvl]) {
			p.Path = append(p.Path, ProofNode{Hash: t.levels[lvl][sib], Left: sib < idx})
		}
		idx /= 2
	}
	return p, nil
}

// Path returns the file backing the tree.
func (t *Tree) Path() string {
	return t.path
}

// Sync flushes the tree file to stable storage.
func (t *Tree) Sync() error {
	if t.file == nil {
		return ErrClosed
	}
	return t.file.Sync()
}

func (t *Tree) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func leafHash(leaf digest.Digest) digest.Digest {
	return digest.Hash([]byte{leafPrefix}, leaf[:])
}

func nodeHash(left, right digest.Digest) digest.Digest {
	return digest.Hash([]byte{nodePrefix}, left[:], right[:])
}
