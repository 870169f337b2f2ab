// bitmap.go - Persisted UTXO bitmap.
//
// Bit i is set while output TxoSID(i) is unspent. The bitmap only grows: a
// slot is appended by setting it and cleared once the output is spent, either
// inside its own transaction or by a later one. The file holds the bitset's
// binary form and is rewritten atomically on Flush.

package bitmap

import (
	"fmt"
	"os"

	"github.com/bits-and-blooms/bitset"

	"utxoledger/internal/digest"
	"utxoledger/internal/fsutil"
)

// BitMap tracks unspent output slots.
type BitMap struct {
	path string
	bits *bitset.BitSet
}

// Create makes a new, empty bitmap file. It fails if path exists.
func Create(path string) (*BitMap, error) {
	bm := &BitMap{path: path, bits: bitset.New(0)}
	data, err := bm.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bitmap: encode: %w", err)
	}
	if err := fsutil.CreateExclusive(path, data); err != nil {
		return nil, fmt.Errorf("bitmap: create %s: %w", path, err)
	}
	return bm, nil
}

// Open reads an existing bitmap file.
func Open(path string) (*BitMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bitmap: open %s: %w", path, err)
	}
	bits := bitset.New(0)
	if err := bits.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("bitmap: decode %s: %w", path, err)
	}
	return &BitMap{path: path, bits: bits}, nil
}

// Set marks slot i, extending the bitmap if needed.
func (b *BitMap) Set(i uint64) { b.bits.Set(uint(i)) }

// Clear unmarks slot i. Clearing past the end is a no-op.
func (b *BitMap) Clear(i uint64) { b.bits.Clear(uint(i)) }

func (b *BitMap) Test(i uint64) bool { return b.bits.Test(uint(i)) }

// Len is the number of slots ever allocated.
func (b *BitMap) Len() uint64 { return uint64(b.bits.Len()) }

// Count is the number of set slots.
func (b *BitMap) Count() uint64 { return uint64(b.bits.Count()) }

// Checksum commits to the bitmap length and contents.
func (b *BitMap) Checksum() digest.Digest {
	return checksum(b.bits)
}

// Flush rewrites the bitmap file.
func (b *BitMap) Flush() error {
	data, err := b.bits.MarshalBinary()
	if err != nil {
		return fmt.Errorf("bitmap: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(b.path, data); err != nil {
		return fmt.Errorf("bitmap: flush: %w", err)
	}
	return nil
}

// View returns a read-only copy of the current bitmap.
func (b *BitMap) View() *View {
	return &View{bits: b.bits.Clone()}
}

// View is an immutable bitmap copy handed to readers.
type View struct {
	bits *bitset.BitSet
}

func (v *View) Test(i uint64) bool { return v.bits.Test(uint(i)) }

func (v *View) Len() uint64 { return uint64(v.bits.Len()) }

func (v *View) Count() uint64 { return uint64(v.bits.Count()) }

func (v *View) Checksum() digest.Digest { return checksum(v.bits) }

// Unspent lists the set slots in ascending order.
func (v *View) Unspent() []uint64 {
	out := make([]uint64, 0, v.bits.Count())
	for i, ok := v.bits.NextSet(0); ok; i, ok = v.bits.NextSet(i + 1) {
		out = append(out, uint64(i))
	}
	return out
}

func checksum(bits *bitset.BitSet) digest.Digest {
	words := bits.Bytes()
	parts := make([][]byte, 0, len(words)+1)
	parts = append(parts, digest.Uint64(uint64(bits.Len())))
	for _, w := range words {
		parts = append(parts, digest.Uint64(w))
	}
	return digest.Hash(parts...)
}
