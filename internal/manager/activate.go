package manager

import (
	"context"
	"fmt"
	"time"

	"privpool/internal/accumulator"
	"privpool/internal/commitment"
	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

// Activate attaches inclusion data to every commitment in set with a single
// batched tree query. starts holds one optional start index per Add call
// that built set, as returned by BuildActiveSet; it is normalized here.
// The result enumerates commitments in the same order as set.
func (m *Manager) Activate(ctx context.Context, set *commitment.Set[*commitment.Incomplete], starts []*uint64) (*commitment.Set[*commitment.Commitment], error) {
	out := commitment.NewSet[*commitment.Commitment]()
	if set.Len() == 0 {
		return out, nil
	}

	normalized := NormalizeStartIndices(starts)
	items := set.Items()
	queries := make([]accumulator.Query, len(items))
	for i, ic := range items {
		origin := set.Origin(i)
		if origin >= len(normalized) {
			return nil, fmt.Errorf("no start index for commitment %s", ic.Hash())
		}
		queries[i] = accumulator.Query{Hash: ic.Hash(), StartIndex: normalized[origin]}
	}

	results, err := m.tree.Find(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("tree query: %w", err)
	}
	if len(results) != len(queries) {
		return nil, fmt.Errorf("tree query returned %d results for %d commitments", len(results), len(queries))
	}

	for i, r := range results {
		if !r.Found {
			return nil, &ActivationError{Hash: queries[i].Hash, StartIndex: queries[i].StartIndex}
		}
		out.Add(commitment.Activate(items[i], r.Opening, r.Root, r.LeafIndex))
	}
	return out, nil
}

// ActiveCommitments returns the activated commitments that make up the
// private balance of tokenType, optionally as of just before a send.
//
// It fails with ErrPendingConfirmation if the most recent pending transaction
// has not reached the accumulator yet.
func (m *Manager) ActiveCommitments(ctx context.Context, tokenType tokentype.TokenType, seeds SeedProvider, before *transactions.Send) (*commitment.Set[*commitment.Commitment], error) {
	start := time.Now()
	if _, err := tokentype.ID(tokenType); err != nil {
		return nil, err
	}

	txs, err := m.history.Pending(ctx, tokenType, before)
	if err != nil {
		return nil, fmt.Errorf("pending transactions: %w", err)
	}
	if len(txs) == 0 {
		return commitment.NewSet[*commitment.Commitment](), nil
	}

	latest := txs[len(txs)-1]
	confirmed, err := m.IsConfirmed(ctx, latest, seeds)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		m.metrics.RecordPendingRejection(tokenType.String())
		m.log.Info().
			Uint64("nonce", latest.Header().Nonce).
			Str("token", tokenType.String()).
			Msg("latest transaction not confirmed yet")
		return nil, fmt.Errorf("%w: nonce %d", ErrPendingConfirmation, latest.Header().Nonce)
	}

	set, starts, err := m.BuildActiveSet(ctx, txs, seeds)
	if err != nil {
		return nil, err
	}
	active, err := m.Activate(ctx, set, starts)
	if err != nil {
		return nil, err
	}

	m.metrics.RecordActivation(tokenType.String(), active.Len(), time.Since(start))
	m.log.Debug().
		Str("token", tokenType.String()).
		Int("pending", len(txs)).
		Int("active", active.Len()).
		Msg("active commitments resolved")
	return active, nil
}

// IsConfirmed reports whether the commitment created by tx is in the
// accumulator at or after the transaction's start index.
func (m *Manager) IsConfirmed(ctx context.Context, tx transactions.Transaction, seeds SeedProvider) (bool, error) {
	ic, err := m.CommitmentFor(ctx, tx, seeds)
	if err != nil {
		return false, err
	}
	return m.IsInserted(ctx, ic.Hash(), tx.Header().StartIndexOrZero())
}

// IsInserted reports whether hash is in the accumulator at or after start.
func (m *Manager) IsInserted(ctx context.Context, hash commitment.Hash, start uint64) (bool, error) {
	ok, err := m.tree.Contains(ctx, hash, start)
	if err != nil {
		return false, fmt.Errorf("tree contains: %w", err)
	}
	return ok, nil
}

// Lener is anything with a size, such as a commitment set.
type Lener interface {
	Len() int
}

// NeedsMerge reports whether the active commitments must be merged before a
// new send: true when there are exactly SendArity of them.
func NeedsMerge(active Lener) (bool, error) {
	n := active.Len()
	if n > SendArity {
		return false, fmt.Errorf("%w: %d active, arity is %d", ErrTooManyActiveCommitments, n, SendArity)
	}
	return n == SendArity, nil
}
