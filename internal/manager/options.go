package manager

import (
	"context"
	"math/big"

	"github.com/rs/zerolog"

	"privpool/internal/accumulator"
	"privpool/internal/commitment"
	"privpool/internal/feed"
	"privpool/internal/metrics"
	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

// SeedProvider derives the nullifier of a nonce.
type SeedProvider interface {
	Nullifier(nonce uint64) commitment.Nullifier
}

// HistoryService is the user's transaction history.
type HistoryService interface {
	// Pending returns the active window of tokenType, oldest to newest,
	// bounded to nonces below before when before is non-nil.
	Pending(ctx context.Context, tokenType tokentype.TokenType, before *transactions.Send) ([]transactions.Transaction, error)
	// BalanceBeforeNonce replays history up to (excluding) nonce.
	BalanceBeforeNonce(ctx context.Context, tokenType tokentype.TokenType, nonce uint64) (*big.Int, error)
}

// TreeQuery answers inclusion queries against the accumulator.
type TreeQuery interface {
	Find(ctx context.Context, queries []accumulator.Query) ([]accumulator.Result, error)
	Contains(ctx context.Context, hash commitment.Hash, start uint64) (bool, error)
}

// ChangeFeed streams snapshots of the accumulator storage account.
type ChangeFeed interface {
	Subscribe(ctx context.Context, account string, level feed.Level) (*feed.Subscription, error)
}

// ChunkReader reads the accumulator's leaf chunks.
type ChunkReader = accumulator.ChunkReader

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithFeed enables AwaitInsertion. Snapshots of account are read from f
// and the chunks they describe from chunks.
func WithFeed(f ChangeFeed, chunks ChunkReader, account string) Option {
	return func(m *Manager) {
		m.feed = f
		m.chunks = chunks
		m.account = account
	}
}

// WithConcurrency bounds the number of send reconciliations running at once.
// Zero or less means no bound.
func WithConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}
