// seed.go - Nullifier derivation from a user's secret seed.
//
// The nullifier for nonce n is PRF(seed, n) with MiMC as the PRF, the same
// construction used for serial numbers. It is a pure function: the same seed
// and nonce always give the same nullifier.

package seed

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"privpool/internal/commitment"
)

// Size is the length of a raw seed.
const Size = 32

var ErrInvalidSeed = errors.New("invalid seed")

// Provider derives nullifiers for one user.
type Provider interface {
	Nullifier(nonce uint64) commitment.Nullifier
}

// Seed is a user's secret. String never prints it.
type Seed struct {
	elem fr.Element
}

var _ Provider = (*Seed)(nil)

// New reduces raw into the scalar field. raw must be non-empty and at most
// Size bytes.
func New(raw []byte) (*Seed, error) {
	if len(raw) == 0 || len(raw) > Size {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSeed, len(raw))
	}
	s := &Seed{}
	s.elem.SetBytes(raw)
	return s, nil
}

// FromHex parses a hex seed, as stored in COMMITD_SEED.
func FromHex(s string) (*Seed, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return New(raw)
}

// Generate returns a fresh random seed and its raw encoding.
func Generate() (*Seed, []byte, error) {
	raw := make([]byte, Size)
	if _, err := rand.Read(raw); err != nil {
		return nil, nil, err
	}
	s, err := New(raw)
	if err != nil {
		return nil, nil, err
	}
	return s, raw, nil
}

// Nullifier returns MiMC(seed, nonce).
func (s *Seed) Nullifier(nonce uint64) commitment.Nullifier {
	var n fr.Element
	n.SetUint64(nonce)
	out := commitment.HashElements(s.elem, n)
	return commitment.NullifierFromElement(&out)
}

func (s *Seed) String() string {
	return "seed(redacted)"
}

func (s *Seed) GoString() string {
	return s.String()
}
