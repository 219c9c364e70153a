package accumulator

import (
	"context"

	"privpool/internal/commitment"
)

// Query asks for a leaf inserted at or after StartIndex.
type Query struct {
	Hash       commitment.Hash `cbor:"1,keyasint"`
	StartIndex uint64          `cbor:"2,keyasint"`
}

// Result is the inclusion data for one Query. Opening, Root and LeafIndex
// are only meaningful when Found is true.
type Result struct {
	Found     bool              `cbor:"1,keyasint"`
	Opening   []commitment.Hash `cbor:"2,keyasint,omitempty"`
	Root      commitment.Hash   `cbor:"3,keyasint"`
	LeafIndex uint64            `cbor:"4,keyasint"`
}

// Find answers a batch of queries against a single root.
func (t *Tree) Find(ctx context.Context, queries []Query) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	root := t.root()
	out := make([]Result, len(queries))
	for i, q := range queries {
		index, ok := t.locate(q.Hash, q.StartIndex)
		if !ok {
			continue
		}
		opening, err := t.opening(index)
		if err != nil {
			return nil, err
		}
		out[i] = Result{Found: true, Opening: opening, Root: root, LeafIndex: index}
	}
	return out, nil
}

// Contains reports whether hash was inserted at or after start.
func (t *Tree) Contains(ctx context.Context, hash commitment.Hash, start uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.locate(hash, start)
	return ok, nil
}

// locate returns the first position of hash at or after start. Caller holds mu.
func (t *Tree) locate(hash commitment.Hash, start uint64) (uint64, bool) {
	for _, index := range t.positions[hash] {
		if index >= start {
			return index, true
		}
	}
	return 0, false
}
