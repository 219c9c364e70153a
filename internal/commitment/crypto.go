// crypto.go - Field arithmetic and MiMC hashing for commitments.
//
// Every value that enters a commitment is first mapped into the BN254 scalar
// field, then hashed with MiMC. The same hash runs inside InclusionCircuit, so
// the byte layout here is what the spend circuit expects.

package commitment

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// HashSize is the width of a commitment hash and of a nullifier.
const HashSize = fr.Bytes

// Hash is a canonical big-endian encoding of a scalar field element.
type Hash [HashSize]byte

// MontScalar is the Montgomery representation of a field element, the form
// in which the on-chain accumulator stores its leaves.
type MontScalar [4]uint64

// HashFromElement encodes e canonically.
func HashFromElement(e *fr.Element) Hash {
	return Hash(e.Bytes())
}

// HashFromHex parses a 64 character hex string.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, expected %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Element maps the hash into the scalar field, reducing if necessary.
func (h Hash) Element() fr.Element {
	var e fr.Element
	e.SetBytes(h[:])
	return e
}

// Mont returns the Montgomery limbs of h.
func (h Hash) Mont() MontScalar {
	e := h.Element()
	return MontScalar(e)
}

// BigInt returns h as a non-negative integer.
func (h Hash) BigInt() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as hex, used by JSON persistence.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Hash converts the Montgomery limbs back into canonical form.
func (m MontScalar) Hash() Hash {
	e := fr.Element(m)
	return HashFromElement(&e)
}

// Nullifier is the secret-derived value revealed when a commitment is spent.
// It must never be logged, so String redacts it.
type Nullifier [HashSize]byte

// NullifierFromElement encodes e canonically.
func NullifierFromElement(e *fr.Element) Nullifier {
	return Nullifier(e.Bytes())
}

func (n Nullifier) Element() fr.Element {
	var e fr.Element
	e.SetBytes(n[:])
	return e
}

func (n Nullifier) String() string {
	return "nullifier(redacted)"
}

// GoString keeps %#v from leaking the bytes as well.
func (n Nullifier) GoString() string {
	return n.String()
}

// BalanceElement maps a balance into the field. Negative values and values
// above the modulus are reduced, matching the circuit's arithmetic.
func BalanceElement(balance *big.Int) fr.Element {
	var e fr.Element
	if balance != nil {
		e.SetBigInt(balance)
	}
	return e
}

// HashElements runs MiMC over the canonical encodings of elems.
func HashElements(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		// canonical encodings are always accepted
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// HashPair is the accumulator node hash.
func HashPair(left, right Hash) Hash {
	l, r := left.Element(), right.Element()
	out := HashElements(l, r)
	return HashFromElement(&out)
}

// EmptyRoots returns the root of an empty subtree for every level 0..height.
// Level 0 is the empty leaf (zero).
func EmptyRoots(height int) []Hash {
	roots := make([]Hash, height+1)
	for i := 1; i <= height; i++ {
		roots[i] = HashPair(roots[i-1], roots[i-1])
	}
	return roots
}

// VerifyOpening checks that leaf sits at leafIndex under root, given the
// sibling hashes ordered from the leaf level upwards.
func VerifyOpening(leaf Hash, opening []Hash, root Hash, leafIndex uint64) bool {
	if len(opening) < 64 && leafIndex >= uint64(1)<<len(opening) {
		return false
	}
	cur := leaf
	idx := leafIndex
	for _, sibling := range opening {
		if idx&1 == 0 {
			cur = HashPair(cur, sibling)
		} else {
			cur = HashPair(sibling, cur)
		}
		idx >>= 1
	}
	return cur == root
}
