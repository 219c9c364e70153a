package commitment

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"
)

func testNullifier(v uint64) Nullifier {
	var e fr.Element
	e.SetUint64(v)
	return NullifierFromElement(&e)
}

func TestHashDeterministic(t *testing.T) {
	a := NewIncomplete(testNullifier(7), big.NewInt(790), 1, 12)
	b := NewIncomplete(testNullifier(7), big.NewInt(790), 1, 12)
	require.Equal(t, a.Hash(), b.Hash())
	require.True(t, a.Equal(b))
	require.False(t, a.Hash().IsZero())

	// Every preimage field contributes
	require.NotEqual(t, a.Hash(), NewIncomplete(testNullifier(8), big.NewInt(790), 1, 12).Hash())
	require.NotEqual(t, a.Hash(), NewIncomplete(testNullifier(7), big.NewInt(791), 1, 12).Hash())
	require.NotEqual(t, a.Hash(), NewIncomplete(testNullifier(7), big.NewInt(790), 2, 12).Hash())
	require.NotEqual(t, a.Hash(), NewIncomplete(testNullifier(7), big.NewInt(790), 1, 13).Hash())
}

func TestBalanceIsCopied(t *testing.T) {
	bal := big.NewInt(100)
	c := NewIncomplete(testNullifier(1), bal, 0, 0)
	h := c.Hash()
	bal.SetInt64(5)
	require.Equal(t, int64(100), c.Balance().Int64())
	require.Equal(t, h, ComputeHash(testNullifier(1), big.NewInt(100), 0, 0))
}

func TestLargeBalance(t *testing.T) {
	// balances wider than 64 bits must still hash distinctly
	big1 := new(big.Int).Lsh(big.NewInt(1), 70)
	big2 := new(big.Int).Add(big1, big.NewInt(1))
	h1 := ComputeHash(testNullifier(1), big1, 0, 0)
	h2 := ComputeHash(testNullifier(1), big2, 0, 0)
	require.NotEqual(t, h1, h2)
}

func TestNullifierRedacted(t *testing.T) {
	n := testNullifier(0xdeadbeef)
	require.Equal(t, "nullifier(redacted)", n.String())
	require.Equal(t, "nullifier(redacted)", fmt.Sprintf("%v", n))
	require.Equal(t, "nullifier(redacted)", fmt.Sprintf("%#v", n))
}

func TestHashHexRoundTrip(t *testing.T) {
	h := ComputeHash(testNullifier(3), big.NewInt(1), 0, 0)
	parsed, err := HashFromHex(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = HashFromHex("abcd")
	require.Error(t, err)
	_, err = HashFromHex("zz")
	require.Error(t, err)
}

func TestMontScalarRoundTrip(t *testing.T) {
	h := ComputeHash(testNullifier(3), big.NewInt(1), 0, 0)
	m := h.Mont()
	require.Equal(t, h, m.Hash())

	// Montgomery limbs differ from the canonical limbs for non-trivial values
	var one fr.Element
	one.SetOne()
	oneHash := HashFromElement(&one)
	require.NotEqual(t, MontScalar{1, 0, 0, 0}, oneHash.Mont())
}

// buildTree returns the root and per-leaf openings of a small full tree.
func buildTree(t *testing.T, leaves []Hash, height int) (Hash, [][]Hash) {
	t.Helper()
	empty := EmptyRoots(height)
	level := make([]Hash, 1<<height)
	for i := range level {
		if i < len(leaves) {
			level[i] = leaves[i]
		} else {
			level[i] = empty[0]
		}
	}
	openings := make([][]Hash, len(leaves))
	for d := 0; d < height; d++ {
		for i := range leaves {
			idx := i >> d
			openings[i] = append(openings[i], level[idx^1])
		}
		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = HashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0], openings
}

func TestEmptyRoots(t *testing.T) {
	roots := EmptyRoots(4)
	require.Len(t, roots, 5)
	require.True(t, roots[0].IsZero())
	root, _ := buildTree(t, nil, 4)
	require.Equal(t, roots[4], root)
}

func TestActivateAndVerify(t *testing.T) {
	const height = 3
	ics := []*Incomplete{
		NewIncomplete(testNullifier(1), big.NewInt(10), 0, 0),
		NewIncomplete(testNullifier(2), big.NewInt(20), 0, 0),
		NewIncomplete(testNullifier(3), big.NewInt(30), 1, 1),
	}
	leaves := make([]Hash, len(ics))
	for i, ic := range ics {
		leaves[i] = ic.Hash()
	}
	root, openings := buildTree(t, leaves, height)

	for i, ic := range ics {
		c := Activate(ic, openings[i], root, uint64(i))
		require.True(t, c.Verify(), "leaf %d", i)
		require.Equal(t, ic.Hash(), c.Hash())
		require.Equal(t, root, c.Root())
		require.EqualValues(t, i, c.LeafIndex())
	}

	wrong := Activate(ics[0], openings[0], root, 1)
	require.False(t, wrong.Verify())

	outOfRange := Activate(ics[0], openings[0], root, 1<<height)
	require.False(t, outOfRange.Verify())
}

func TestSetDeduplicates(t *testing.T) {
	a := NewIncomplete(testNullifier(1), big.NewInt(10), 0, 0)
	b := NewIncomplete(testNullifier(2), big.NewInt(20), 0, 0)
	aCopy := NewIncomplete(testNullifier(1), big.NewInt(10), 0, 0)

	s := NewSet[*Incomplete]()
	require.True(t, s.Add(a))
	require.False(t, s.Add(aCopy))
	require.True(t, s.Add(b))

	require.Equal(t, 2, s.Len())
	require.Equal(t, []Hash{a.Hash(), b.Hash()}, s.Hashes())
	require.True(t, s.Contains(b.Hash()))
	got, ok := s.Get(a.Hash())
	require.True(t, ok)
	require.Same(t, a, got)

	// origins track the Add ordinal, skipping the collapsed duplicate
	require.Equal(t, 0, s.Origin(0))
	require.Equal(t, 2, s.Origin(1))
}

func TestNilSet(t *testing.T) {
	var s *Set[*Commitment]
	require.Equal(t, 0, s.Len())
	require.False(t, s.Contains(Hash{}))
	require.Nil(t, s.Items())
}

func TestInclusionCircuit(t *testing.T) {
	const height = 4
	ics := []*Incomplete{
		NewIncomplete(testNullifier(11), big.NewInt(1000), 0, 0),
		NewIncomplete(testNullifier(12), big.NewInt(790), 0, 0),
		NewIncomplete(testNullifier(13), new(big.Int).Lsh(big.NewInt(1), 80), 2, 1),
	}
	leaves := make([]Hash, len(ics))
	for i, ic := range ics {
		leaves[i] = ic.Hash()
	}
	root, openings := buildTree(t, leaves, height)

	for i, ic := range ics {
		c := Activate(ic, openings[i], root, uint64(i))
		circuit := &InclusionCircuit{Path: make([]frontend.Variable, height)}
		err := test.IsSolved(circuit, Assignment(c), ecc.BN254.ScalarField())
		require.NoError(t, err, "leaf %d", i)
	}

	// A forged root is rejected
	c := Activate(ics[1], openings[1], root, 1)
	bad := Assignment(c)
	bad.Root = big.NewInt(1)
	circuit := &InclusionCircuit{Path: make([]frontend.Variable, height)}
	require.Error(t, test.IsSolved(circuit, bad, ecc.BN254.ScalarField()))
}
