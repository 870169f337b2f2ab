package merkle

import "utxoledger/internal/digest"

// ProofNode is one sibling on the path from a leaf to the root.
// Left is set when the sibling sits to the left of the running hash.
type ProofNode struct {
	Hash digest.Digest `cbor:"1,keyasint" json:"hash"`
	Left bool          `cbor:"2,keyasint" json:"left"`
}

// Proof shows that a leaf is included in a tree of TreeSize leaves with Root.
type Proof struct {
	Index    uint64        `cbor:"1,keyasint" json:"index"`
	TreeSize uint64        `cbor:"2,keyasint" json:"tree_size"`
	Root     digest.Digest `cbor:"3,keyasint" json:"root"`
	Path     []ProofNode   `cbor:"4,keyasint" json:"path"`
}

// Verify reports whether leaf hashes up to p.Root along p.Path.
func (p *Proof) Verify(leaf digest.Digest) bool {
	if p == nil || p.Index >= p.TreeSize {
		return false
	}
	node := leafHash(leaf)
	for _, n := range p.Path {
		if n.Left {
			node = nodeHash(n.Hash, node)
		} else {
			node = nodeHash(node, n.Hash)
		}
	}
	return node == p.Root
}
