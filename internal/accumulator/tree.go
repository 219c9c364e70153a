// Package accumulator maintains the append-only Merkle accumulator of
// commitments and answers inclusion queries against it.
//
// The tree has a fixed height. Empty positions hold the zero leaf, so the
// root of a partially filled tree is well defined. Leaves are persisted in
// LevelDB and replayed on open; interior nodes live in memory.
package accumulator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"privpool/internal/commitment"
	"privpool/internal/feed"
)

const (
	DefaultHeight    = 20
	DefaultChunkSize = 64
	DefaultAccount   = "commitment-storage"
	maxHeight        = 32
)

var (
	ErrTreeFull        = errors.New("accumulator is full")
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	ErrLayoutMismatch  = errors.New("stored accumulator layout does not match")
)

// Publisher receives the encoded storage account after every insert.
// *feed.Hub implements it.
type Publisher interface {
	Publish(account string, level feed.Level, data []byte)
}

type options struct {
	height    int
	chunkSize uint64
	account   string
	pub       Publisher
	log       zerolog.Logger
}

type Option func(*options)

func WithHeight(h int) Option {
	return func(o *options) { o.height = h }
}

func WithChunkSize(n uint64) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithPublisher publishes storage account snapshots under account.
func WithPublisher(p Publisher, account string) Option {
	return func(o *options) {
		o.pub = p
		if account != "" {
			o.account = account
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Tree is a fixed-height MiMC Merkle tree. It is safe for concurrent use.
type Tree struct {
	opts  options
	store *store
	empty []commitment.Hash

	mu        sync.RWMutex
	nodes     [][]commitment.Hash // nodes[0] are the leaves
	positions map[commitment.Hash][]uint64
}

// NewMemory returns an empty tree backed by in-memory storage.
func NewMemory(opts ...Option) (*Tree, error) {
	return Open("", opts...)
}

// Open loads the tree stored at path, creating it if needed.
func Open(path string, opts ...Option) (*Tree, error) {
	o := options{
		height:    DefaultHeight,
		chunkSize: DefaultChunkSize,
		account:   DefaultAccount,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.height < 1 || o.height > maxHeight {
		return nil, fmt.Errorf("invalid tree height %d", o.height)
	}
	if o.chunkSize == 0 {
		return nil, fmt.Errorf("invalid chunk size 0")
	}

	st, err := openStore(path)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		opts:      o,
		store:     st,
		empty:     commitment.EmptyRoots(o.height),
		nodes:     make([][]commitment.Hash, o.height+1),
		positions: make(map[commitment.Hash][]uint64),
	}
	if err := t.replay(); err != nil {
		st.close()
		return nil, err
	}
	return t, nil
}

func (t *Tree) replay() error {
	raw, err := t.store.account()
	if err != nil {
		return err
	}
	if raw != nil {
		acc, err := DecodeStorageAccount(raw)
		if err != nil {
			return err
		}
		if int(acc.Height) != t.opts.height || acc.ChunkSize != t.opts.chunkSize {
			return fmt.Errorf("%w: stored height %d chunk %d", ErrLayoutMismatch, acc.Height, acc.ChunkSize)
		}
	}
	leaves, err := t.store.leaves()
	if err != nil {
		return err
	}
	for _, leaf := range leaves {
		t.append(leaf)
	}
	if len(leaves) > 0 {
		t.opts.log.Info().Int("leaves", len(leaves)).Str("root", t.root().String()).Msg("accumulator replayed")
	}
	return nil
}

// node returns the hash at (level, index), falling back to the empty subtree.
func (t *Tree) node(level int, index uint64) commitment.Hash {
	if index < uint64(len(t.nodes[level])) {
		return t.nodes[level][index]
	}
	return t.empty[level]
}

// append adds leaf and recomputes its path to the root. Caller holds mu.
func (t *Tree) append(leaf commitment.Hash) uint64 {
	index := uint64(len(t.nodes[0]))
	t.nodes[0] = append(t.nodes[0], leaf)
	t.positions[leaf] = append(t.positions[leaf], index)

	idx := index
	for level := 0; level < t.opts.height; level++ {
		parent := idx >> 1
		h := commitment.HashPair(t.node(level, parent<<1), t.node(level, parent<<1|1))
		if parent < uint64(len(t.nodes[level+1])) {
			t.nodes[level+1][parent] = h
		} else {
			t.nodes[level+1] = append(t.nodes[level+1], h)
		}
		idx = parent
	}
	return index
}

func (t *Tree) root() commitment.Hash {
	return t.node(t.opts.height, 0)
}

func (t *Tree) account() StorageAccount {
	return StorageAccount{
		NextLeafIndex: uint64(len(t.nodes[0])),
		ChunkSize:     t.opts.chunkSize,
		Height:        uint8(t.opts.height),
		Root:          t.root(),
	}
}

// Insert appends leaf and returns its index. The new storage account is
// persisted with the leaf and then published at the finalized level.
func (t *Tree) Insert(leaf commitment.Hash) (uint64, error) {
	t.mu.Lock()
	if uint64(len(t.nodes[0])) >= uint64(1)<<t.opts.height {
		t.mu.Unlock()
		return 0, ErrTreeFull
	}
	index := t.append(leaf)
	acc := t.account()
	data, err := acc.Encode()
	if err == nil {
		err = t.store.putLeaf(index, leaf, data)
	}
	if err != nil {
		t.rollback(leaf)
		t.mu.Unlock()
		return 0, fmt.Errorf("persist leaf %d: %w", index, err)
	}
	t.mu.Unlock()

	t.opts.log.Debug().Uint64("index", index).Str("root", acc.Root.String()).Msg("leaf inserted")
	if t.opts.pub != nil {
		t.opts.pub.Publish(t.opts.account, feed.LevelFinalized, data)
	}
	return index, nil
}

// rollback undoes the last append. Caller holds mu.
func (t *Tree) rollback(leaf commitment.Hash) {
	index := uint64(len(t.nodes[0]) - 1)
	t.nodes[0] = t.nodes[0][:index]
	pos := t.positions[leaf]
	if len(pos) <= 1 {
		delete(t.positions, leaf)
	} else {
		t.positions[leaf] = pos[:len(pos)-1]
	}
	idx := index
	for level := 0; level < t.opts.height; level++ {
		parent := idx >> 1
		if parent<<1 == uint64(len(t.nodes[level])) {
			t.nodes[level+1] = t.nodes[level+1][:parent]
		} else {
			t.nodes[level+1][parent] = commitment.HashPair(t.node(level, parent<<1), t.node(level, parent<<1|1))
		}
		idx = parent
	}
}

// Root returns the current root.
func (t *Tree) Root() commitment.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root()
}

// Len returns the number of inserted leaves.
func (t *Tree) Len() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.nodes[0]))
}

func (t *Tree) Height() int {
	return t.opts.height
}

// Opening returns the sibling hashes of leaf index, from the leaf level up.
func (t *Tree) Opening(index uint64) ([]commitment.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opening(index)
}

func (t *Tree) opening(index uint64) ([]commitment.Hash, error) {
	if index >= uint64(len(t.nodes[0])) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	out := make([]commitment.Hash, t.opts.height)
	idx := index
	for level := 0; level < t.opts.height; level++ {
		out[level] = t.node(level, idx^1)
		idx >>= 1
	}
	return out, nil
}

// StorageAccount returns the current header.
func (t *Tree) StorageAccount(ctx context.Context) (StorageAccount, error) {
	if err := ctx.Err(); err != nil {
		return StorageAccount{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.account(), nil
}

// ReadChunk returns the leaves of chunk i in Montgomery form. The last
// chunk may be short.
func (t *Tree) ReadChunk(ctx context.Context, i uint64) ([]commitment.MontScalar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := uint64(len(t.nodes[0]))
	lo := i * t.opts.chunkSize
	if lo >= n {
		return nil, fmt.Errorf("%w: chunk %d", ErrIndexOutOfRange, i)
	}
	hi := min(lo+t.opts.chunkSize, n)
	out := make([]commitment.MontScalar, 0, hi-lo)
	for _, leaf := range t.nodes[0][lo:hi] {
		out = append(out, leaf.Mont())
	}
	return out, nil
}

// Close releases the underlying database.
func (t *Tree) Close() error {
	return t.store.close()
}
