// commitment.go - Incomplete and activated commitments.
//
// An Incomplete commitment is computed locally the moment a transaction is
// drafted. Once the accumulator confirms the leaf it is activated into a
// Commitment carrying a Merkle opening. Neither type is mutated after
// construction.

package commitment

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Incomplete is a claim about a future accumulator leaf.
type Incomplete struct {
	nullifier      Nullifier
	balance        *big.Int
	tokenID        uint16
	treeStartIndex uint64

	once sync.Once
	hash Hash
}

// NewIncomplete builds a commitment. balance is copied; the result is
// the private balance after the transaction that produced the commitment.
func NewIncomplete(nullifier Nullifier, balance *big.Int, tokenID uint16, treeStartIndex uint64) *Incomplete {
	b := new(big.Int)
	if balance != nil {
		b.Set(balance)
	}
	return &Incomplete{
		nullifier:      nullifier,
		balance:        b,
		tokenID:        tokenID,
		treeStartIndex: treeStartIndex,
	}
}

// Hash returns MiMC(nullifier, balance, tokenID, treeStartIndex).
// It is computed on first use and cached.
func (c *Incomplete) Hash() Hash {
	c.once.Do(func() {
		c.hash = ComputeHash(c.nullifier, c.balance, c.tokenID, c.treeStartIndex)
	})
	return c.hash
}

// Nullifier is exposed for spend proofs only.
func (c *Incomplete) Nullifier() Nullifier {
	return c.nullifier
}

// Balance returns a copy of the committed balance.
func (c *Incomplete) Balance() *big.Int {
	return new(big.Int).Set(c.balance)
}

func (c *Incomplete) TokenID() uint16 {
	return c.tokenID
}

func (c *Incomplete) TreeStartIndex() uint64 {
	return c.treeStartIndex
}

// Equal compares by hash.
func (c *Incomplete) Equal(other *Incomplete) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Hash() == other.Hash()
}

// ComputeHash is the commitment hash function, exposed so callers can check
// a commitment independently of the value objects.
func ComputeHash(nullifier Nullifier, balance *big.Int, tokenID uint16, treeStartIndex uint64) Hash {
	var tok, start fr.Element
	tok.SetUint64(uint64(tokenID))
	start.SetUint64(treeStartIndex)
	out := HashElements(nullifier.Element(), BalanceElement(balance), tok, start)
	return HashFromElement(&out)
}

// Commitment is an Incomplete commitment with proof of inclusion.
type Commitment struct {
	*Incomplete

	opening   []Hash
	root      Hash
	leafIndex uint64
}

// Activate attaches inclusion data to ic. The opening lists sibling hashes
// from the leaf level to the root.
func Activate(ic *Incomplete, opening []Hash, root Hash, leafIndex uint64) *Commitment {
	op := make([]Hash, len(opening))
	copy(op, opening)
	return &Commitment{
		Incomplete: ic,
		opening:    op,
		root:       root,
		leafIndex:  leafIndex,
	}
}

// Opening returns a copy of the Merkle opening.
func (c *Commitment) Opening() []Hash {
	op := make([]Hash, len(c.opening))
	copy(op, c.opening)
	return op
}

func (c *Commitment) Root() Hash {
	return c.root
}

func (c *Commitment) LeafIndex() uint64 {
	return c.leafIndex
}

// Verify checks the opening against the root.
func (c *Commitment) Verify() bool {
	return VerifyOpening(c.Hash(), c.opening, c.root, c.leafIndex)
}
