package manager

import (
	"errors"
	"fmt"

	"privpool/internal/commitment"
	"privpool/internal/tokentype"
)

var (
	// ErrUnknownTokenType is returned when a transaction names a token
	// outside the token table.
	ErrUnknownTokenType = tokentype.ErrUnknownTokenType

	// ErrCommitmentMismatch means neither the cached metadata nor the
	// replayed history reproduces the hash recorded on a send. The history
	// is corrupt or the seed does not belong to the transaction. Never retry.
	ErrCommitmentMismatch = errors.New("commitment mismatch")

	// ErrActivationIncomplete means the accumulator has no inclusion data
	// for a commitment yet. Callers may retry later.
	ErrActivationIncomplete = errors.New("activation incomplete")

	// ErrPendingConfirmation is returned when the most recent transaction
	// of a token is not yet in the accumulator.
	ErrPendingConfirmation = errors.New("cannot build a new transaction while a prior one awaits confirmation")

	// ErrTooManyActiveCommitments means the active set is larger than the
	// send arity. This is an internal consistency failure.
	ErrTooManyActiveCommitments = errors.New("too many active commitments")

	ErrFeedClosed = errors.New("change feed closed")
	ErrNoFeed     = errors.New("no change feed configured")
)

// MismatchError names the send whose commitment could not be rebuilt.
type MismatchError struct {
	Nonce uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("failed to reconstruct commitment for nonce %d", e.Nonce)
}

func (e *MismatchError) Unwrap() error {
	return ErrCommitmentMismatch
}

// ActivationError names the commitment the accumulator could not find.
type ActivationError struct {
	Hash       commitment.Hash
	StartIndex uint64
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("no inclusion data for commitment %s at or after leaf %d", e.Hash, e.StartIndex)
}

func (e *ActivationError) Unwrap() error {
	return ErrActivationIncomplete
}
