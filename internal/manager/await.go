package manager

import (
	"context"
	"fmt"
	"time"

	"privpool/internal/accumulator"
	"privpool/internal/commitment"
	"privpool/internal/feed"
)

type awaitState int

const (
	awaitWaiting awaitState = iota
	awaitFound
)

// awaiter tracks one wait for a leaf. It only moves forward.
type awaiter struct {
	target commitment.MontScalar
	start  uint64

	state awaitState
	index uint64
}

// observe scans the snapshot carried by n and moves to awaitFound on a match.
func (a *awaiter) observe(ctx context.Context, chunks ChunkReader, n feed.Notification) error {
	acc, err := accumulator.DecodeStorageAccount(n.Data)
	if err != nil {
		return err
	}
	index, ok, err := accumulator.Scan(ctx, chunks, acc, a.target, a.start)
	if err != nil {
		return err
	}
	if ok {
		a.state = awaitFound
		a.index = index
	}
	return nil
}

// AwaitInsertion blocks until hash shows up in the accumulator at or after
// start, as seen by finalized snapshots of the storage account.
//
// Only snapshots that arrive after subscribing are examined; a leaf already
// present is reported with the next snapshot. There is no built-in timeout.
// If ctx ends first the result is (false, ctx.Err()).
func (m *Manager) AwaitInsertion(ctx context.Context, hash commitment.Hash, start uint64) (bool, error) {
	if _, err := m.WaitForLeaf(ctx, hash, start); err != nil {
		return false, err
	}
	return true, nil
}

// WaitForLeaf is AwaitInsertion returning the leaf index.
func (m *Manager) WaitForLeaf(ctx context.Context, hash commitment.Hash, start uint64) (uint64, error) {
	if m.feed == nil || m.chunks == nil {
		return 0, ErrNoFeed
	}
	began := time.Now()

	sub, err := m.feed.Subscribe(ctx, m.account, feed.LevelFinalized)
	if err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", m.account, err)
	}
	defer sub.Close()

	a := &awaiter{target: hash.Mont(), start: start}
	for a.state == awaitWaiting {
		select {
		case <-ctx.Done():
			m.metrics.RecordAwait(false, time.Since(began))
			return 0, ctx.Err()

		case n, ok := <-sub.C:
			if !ok {
				m.metrics.RecordAwait(false, time.Since(began))
				if err := ctx.Err(); err != nil {
					return 0, err
				}
				return 0, ErrFeedClosed
			}
			if err := a.observe(ctx, m.chunks, n); err != nil {
				m.log.Warn().Err(err).Uint64("slot", n.Slot).Msg("skipping snapshot")
			}
		}
	}

	m.metrics.RecordAwait(true, time.Since(began))
	m.log.Info().
		Str("commitment", hash.String()).
		Uint64("leaf", a.index).
		Msg("commitment finalized")
	return a.index, nil
}
