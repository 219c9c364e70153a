package commitment

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// InclusionCircuit proves knowledge of an activated commitment: the prover
// knows a balance and start index such that the commitment built from the
// public nullifier and token id sits at some leaf under Root.
//
// Path must be allocated with the tree height before compiling.
type InclusionCircuit struct {
	// Public inputs
	Root      frontend.Variable `gnark:",public"`
	Nullifier frontend.Variable `gnark:",public"`
	TokenID   frontend.Variable `gnark:",public"`

	// Private inputs
	Balance    frontend.Variable
	StartIndex frontend.Variable
	LeafIndex  frontend.Variable
	Path       []frontend.Variable
}

func (c *InclusionCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// Leaf: same preimage order as ComputeHash
	hasher.Write(c.Nullifier, c.Balance, c.TokenID, c.StartIndex)
	cur := hasher.Sum()

	// The leaf index bits select the side of each sibling
	bits := api.ToBinary(c.LeafIndex, len(c.Path))
	for i, sibling := range c.Path {
		left := api.Select(bits[i], sibling, cur)
		right := api.Select(bits[i], cur, sibling)
		hasher.Reset()
		hasher.Write(left, right)
		cur = hasher.Sum()
	}
	api.AssertIsEqual(c.Root, cur)

	// A leaf can never precede the tree position recorded at drafting time
	api.AssertIsLessOrEqual(c.StartIndex, c.LeafIndex)
	return nil
}

// Assignment builds a full witness for c.
func Assignment(c *Commitment) *InclusionCircuit {
	null := c.Nullifier().Element()
	bal := BalanceElement(c.balance)
	path := make([]frontend.Variable, len(c.opening))
	for i, h := range c.opening {
		path[i] = h.BigInt()
	}
	return &InclusionCircuit{
		Root:       c.root.BigInt(),
		Nullifier:  null.BigInt(new(big.Int)),
		TokenID:    uint64(c.tokenID),
		Balance:    bal.BigInt(new(big.Int)),
		StartIndex: c.treeStartIndex,
		LeafIndex:  c.leafIndex,
		Path:       path,
	}
}
