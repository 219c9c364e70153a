// layout.go - Chunked storage layout of the accumulator.
//
// Leaves are grouped into fixed-size chunks. The storage account records how
// many leaves exist and how big a chunk is, so a reader that only sees the
// account can tell which chunks may hold a leaf inserted at or after some
// index. Chunks carry leaves in Montgomery form.

package accumulator

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"privpool/internal/commitment"
)

// StorageAccount is the published header of the accumulator.
type StorageAccount struct {
	NextLeafIndex uint64          `cbor:"1,keyasint"`
	ChunkSize     uint64          `cbor:"2,keyasint"`
	Height        uint8           `cbor:"3,keyasint"`
	Root          commitment.Hash `cbor:"4,keyasint"`
}

// Encode serializes the account as CBOR.
func (a StorageAccount) Encode() ([]byte, error) {
	return cbor.Marshal(a)
}

// DecodeStorageAccount is the inverse of Encode.
func DecodeStorageAccount(data []byte) (StorageAccount, error) {
	var a StorageAccount
	if err := cbor.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("decode storage account: %w", err)
	}
	if a.ChunkSize == 0 {
		return a, fmt.Errorf("decode storage account: zero chunk size")
	}
	return a, nil
}

// ChunkRange returns the chunks [first, last) that may hold a leaf inserted
// at or after start, given next leaves in total. The range is empty when
// start is at or past next.
func ChunkRange(start, next, chunkSize uint64) (first, last uint64) {
	if chunkSize == 0 || start >= next {
		return 0, 0
	}
	first = start / chunkSize
	last = (next + chunkSize - 1) / chunkSize
	return first, last
}

// ChunkReader reads one chunk of leaves in Montgomery form.
type ChunkReader interface {
	ReadChunk(ctx context.Context, i uint64) ([]commitment.MontScalar, error)
}

// Scan looks for target in every chunk that may hold a leaf inserted at or
// after start, according to acc. It returns the global index of the first
// match at or after start.
func Scan(ctx context.Context, r ChunkReader, acc StorageAccount, target commitment.MontScalar, start uint64) (uint64, bool, error) {
	first, last := ChunkRange(start, acc.NextLeafIndex, acc.ChunkSize)
	for c := first; c < last; c++ {
		leaves, err := r.ReadChunk(ctx, c)
		if err != nil {
			return 0, false, fmt.Errorf("read chunk %d: %w", c, err)
		}
		base := c * acc.ChunkSize
		for i, leaf := range leaves {
			index := base + uint64(i)
			if index < start || index >= acc.NextLeafIndex {
				continue
			}
			if leaf == target {
				return index, true, nil
			}
		}
	}
	return 0, false, nil
}
