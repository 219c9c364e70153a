// Package manager turns a user's transaction history into commitments the
// spend circuit accepts.
//
// It builds incomplete commitments for drafted transactions, rebuilds the
// authoritative commitment of a send when cached metadata cannot be trusted,
// activates commitments with Merkle openings, decides when a merge is needed
// and waits for a commitment to reach the accumulator. A Manager keeps no
// state between calls: everything is read from the history service and the
// accumulator on every call.
package manager

import (
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"privpool/internal/commitment"
	"privpool/internal/metrics"
	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

// SendArity is the number of input commitments a send can consume.
const SendArity = 4

type Manager struct {
	history HistoryService
	tree    TreeQuery

	log         zerolog.Logger
	metrics     *metrics.Collector
	feed        ChangeFeed
	chunks      ChunkReader
	account     string
	concurrency int
}

func New(history HistoryService, tree TreeQuery, opts ...Option) *Manager {
	m := &Manager{
		history: history,
		tree:    tree,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BuildForTopup commits to the topup amount.
func BuildForTopup(tx *transactions.Topup, seeds SeedProvider) (*commitment.Incomplete, error) {
	tokenID, err := tokentype.ID(tx.TokenType)
	if err != nil {
		return nil, err
	}
	return commitment.NewIncomplete(seeds.Nullifier(tx.Nonce), tx.Amount, tokenID, tx.StartIndexOrZero()), nil
}

// BuildForSend commits to priorBalance - sendAmount - totalFee.
//
// totalFee is the computation fee only: any extra fee and token account rent
// must already be part of sendAmount. The result is not checked for being
// non-negative.
func BuildForSend(nullifier commitment.Nullifier, tokenType tokentype.TokenType, priorBalance, sendAmount, totalFee *big.Int, treeStartIndex uint64) (*commitment.Incomplete, error) {
	tokenID, err := tokentype.ID(tokenType)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if priorBalance != nil {
		balance.Set(priorBalance)
	}
	if sendAmount != nil {
		balance.Sub(balance, sendAmount)
	}
	if totalFee != nil {
		balance.Sub(balance, totalFee)
	}
	return commitment.NewIncomplete(nullifier, balance, tokenID, treeStartIndex), nil
}

// fromMetadata rebuilds a send's commitment from its cached metadata.
func fromMetadata(tx *transactions.Send, seeds SeedProvider) (*commitment.Incomplete, error) {
	meta := tx.Metadata
	if meta.BalanceBefore == nil {
		return nil, fmt.Errorf("metadata for nonce %d has no balance", tx.Nonce)
	}
	return BuildForSend(seeds.Nullifier(meta.Nonce), meta.TokenType, meta.BalanceBefore, tx.Amount, tx.Fee, meta.StartIndexOrZero())
}
