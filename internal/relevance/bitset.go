// Package relevance provides the per-node relevance bitset of a behavior
// knowledge container: one bit per tree node, set while that node has live
// state in the knowledge memory chunk.
package relevance

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// ErrIndexOutOfRange is returned for a node index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("relevance: node index out of range")

// Bitset is a fixed-length array of bits. Unlike the underlying
// bitset.BitSet it never grows: every access is bounds checked against the
// length it was created with. The nil *Bitset is valid and has length zero.
type Bitset struct {
	bits *bitset.BitSet
	n    int
}

// New returns a bitset of n clear bits.
func New(n int) *Bitset {
	if n < 0 {
		n = 0
	}
	return &Bitset{bits: bitset.New(uint(n)), n: n}
}

// Len returns the number of bits.
func (b *Bitset) Len() int {
	if b == nil {
		return 0
	}
	return b.n
}

func (b *Bitset) check(i int) error {
	if i < 0 || i >= b.Len() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, b.Len())
	}
	return nil
}

// Set sets bit i.
func (b *Bitset) Set(i int) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.bits.Set(uint(i))
	return nil
}

// Clear clears bit i.
func (b *Bitset) Clear(i int) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.bits.Clear(uint(i))
	return nil
}

// Test reports whether bit i is set.
func (b *Bitset) Test(i int) (bool, error) {
	if err := b.check(i); err != nil {
		return false, err
	}
	return b.bits.Test(uint(i)), nil
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	if b == nil {
		return 0
	}
	return int(b.bits.Count())
}

// Each calls fn for every set bit in ascending order, until fn returns
// false. fn may clear the bit it is called with.
func (b *Bitset) Each(fn func(i int) bool) {
	if b == nil {
		return
	}
	for i, ok := b.bits.NextSet(0); ok && int(i) < b.n; i, ok = b.bits.NextSet(i + 1) {
		if !fn(int(i)) {
			return
		}
	}
}

// Indices returns the set bits in ascending order.
func (b *Bitset) Indices() []int {
	out := make([]int, 0, b.Count())
	b.Each(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}

// ClearAll clears every bit.
func (b *Bitset) ClearAll() {
	if b == nil {
		return
	}
	b.bits.ClearAll()
}

func (b *Bitset) String() string {
	if b == nil {
		return "{}"
	}
	return b.bits.String()
}
