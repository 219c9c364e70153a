package manager

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"privpool/internal/commitment"
	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

// ResolveSendCommitment returns the commitment that tx created.
//
// Cached metadata is tried first and used only if it reproduces
// tx.CommitmentHash. Otherwise the balance before the send is replayed from
// history. If that does not reproduce the hash either, a *MismatchError is
// returned.
func (m *Manager) ResolveSendCommitment(ctx context.Context, tx *transactions.Send, seeds SeedProvider) (*commitment.Incomplete, error) {
	if _, err := tokentype.ID(tx.TokenType); err != nil {
		return nil, err
	}
	token := tx.TokenType.String()

	if tx.Metadata != nil {
		ic, err := fromMetadata(tx, seeds)
		if err == nil && ic.Hash() == tx.CommitmentHash {
			m.metrics.RecordFastPath(token)
			return ic, nil
		}
		m.log.Debug().
			Uint64("nonce", tx.Nonce).
			Str("token", token).
			Msg("cached metadata does not reproduce commitment, replaying history")
	}

	m.metrics.RecordSlowPath(token)
	balance, err := m.history.BalanceBeforeNonce(ctx, tx.TokenType, tx.Nonce)
	if err != nil {
		return nil, fmt.Errorf("balance before nonce %d: %w", tx.Nonce, err)
	}
	ic, err := BuildForSend(seeds.Nullifier(tx.Nonce), tx.TokenType, balance, tx.Amount, tx.Fee, tx.StartIndexOrZero())
	if err != nil {
		return nil, err
	}
	if ic.Hash() != tx.CommitmentHash {
		m.metrics.RecordMismatch(token)
		m.log.Error().
			Uint64("nonce", tx.Nonce).
			Str("token", token).
			Str("expected", tx.CommitmentHash.String()).
			Msg("commitment reconstruction failed")
		return nil, &MismatchError{Nonce: tx.Nonce}
	}
	return ic, nil
}

// CommitmentFor returns the commitment created by either kind of transaction.
func (m *Manager) CommitmentFor(ctx context.Context, tx transactions.Transaction, seeds SeedProvider) (*commitment.Incomplete, error) {
	switch v := tx.(type) {
	case *transactions.Topup:
		return BuildForTopup(v, seeds)
	case *transactions.Send:
		return m.ResolveSendCommitment(ctx, v, seeds)
	}
	return nil, fmt.Errorf("unsupported transaction %T", tx)
}

// BuildActiveSet builds the commitments of txs. Sends are reconciled
// concurrently. The set enumerates commitments in input order, and the
// returned start indices line up with txs (nil where a transaction has none).
func (m *Manager) BuildActiveSet(ctx context.Context, txs []transactions.Transaction, seeds SeedProvider) (*commitment.Set[*commitment.Incomplete], []*uint64, error) {
	resolved := make([]*commitment.Incomplete, len(txs))
	starts := make([]*uint64, len(txs))

	var sends []int
	for i, tx := range txs {
		if si := tx.Header().TreeStartIndex; si != nil {
			v := *si
			starts[i] = &v
		}
		switch v := tx.(type) {
		case *transactions.Topup:
			ic, err := BuildForTopup(v, seeds)
			if err != nil {
				return nil, nil, fmt.Errorf("topup nonce %d: %w", v.Nonce, err)
			}
			resolved[i] = ic
		case *transactions.Send:
			sends = append(sends, i)
		default:
			return nil, nil, fmt.Errorf("unsupported transaction %T", tx)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}
	for _, i := range sends {
		send := txs[i].(*transactions.Send)
		g.Go(func() error {
			ic, err := m.ResolveSendCommitment(gctx, send, seeds)
			if err != nil {
				return err
			}
			resolved[i] = ic
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	set := commitment.NewSet[*commitment.Incomplete]()
	for _, ic := range resolved {
		set.Add(ic)
	}
	return set, starts, nil
}

// NormalizeStartIndices fills absent indices with the last index seen
// before them, or 0 if there is none.
func NormalizeStartIndices(starts []*uint64) []uint64 {
	out := make([]uint64, len(starts))
	var last uint64
	for i, si := range starts {
		if si != nil {
			last = *si
		}
		out[i] = last
	}
	return out
}
