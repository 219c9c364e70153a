// Package transactions defines the two private transaction kinds that produce
// commitments: topups move public funds into the pool, sends spend from it.
package transactions

import (
	"fmt"
	"math/big"

	"privpool/internal/commitment"
	"privpool/internal/tokentype"
)

type Kind uint8

const (
	KindTopup Kind = iota + 1
	KindSend
)

func (k Kind) String() string {
	switch k {
	case KindTopup:
		return "topup"
	case KindSend:
		return "send"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindTopup, KindSend:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown transaction kind %d", uint8(k))
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "topup":
		*k = KindTopup
	case "send":
		*k = KindSend
	default:
		return fmt.Errorf("unknown transaction kind %q", string(text))
	}
	return nil
}

// TxHeader is shared by both kinds.
type TxHeader struct {
	Nonce     uint64              `json:"nonce"`
	TokenType tokentype.TokenType `json:"token_type"`
	// TreeStartIndex is the accumulator size observed when the transaction
	// was drafted. It is nil when the drafter did not know it.
	TreeStartIndex *uint64 `json:"tree_start_index,omitempty"`
}

// StartIndexOrZero is the start index used inside the commitment hash.
func (h TxHeader) StartIndexOrZero() uint64 {
	if h.TreeStartIndex == nil {
		return 0
	}
	return *h.TreeStartIndex
}

// Transaction is either *Topup or *Send.
type Transaction interface {
	Kind() Kind
	Header() TxHeader
	sealed()
}

type Topup struct {
	TxHeader
	Amount *big.Int `json:"amount"`
}

func (t *Topup) Kind() Kind       { return KindTopup }
func (t *Topup) Header() TxHeader { return t.TxHeader }
func (*Topup) sealed()            {}

// Metadata is the locally cached (and possibly stale) state a send was
// drafted with. It is never trusted without checking the resulting hash.
type Metadata struct {
	Nonce          uint64              `json:"nonce"`
	BalanceBefore  *big.Int            `json:"balance_before"`
	TokenType      tokentype.TokenType `json:"token_type"`
	TreeStartIndex *uint64             `json:"tree_start_index,omitempty"`
}

// StartIndexOrZero mirrors TxHeader.StartIndexOrZero.
func (m *Metadata) StartIndexOrZero() uint64 {
	if m.TreeStartIndex == nil {
		return 0
	}
	return *m.TreeStartIndex
}

type Send struct {
	TxHeader
	// Amount already includes any extra fee and token account rent.
	Amount *big.Int `json:"amount"`
	// Fee is the computation fee only.
	Fee *big.Int `json:"fee"`
	// CommitmentHash is the hash submitted with the transaction.
	CommitmentHash commitment.Hash `json:"commitment_hash"`
	Metadata       *Metadata       `json:"metadata,omitempty"`
}

func (s *Send) Kind() Kind       { return KindSend }
func (s *Send) Header() TxHeader { return s.TxHeader }
func (*Send) sealed()            {}

// NewSend folds the non-computation fees into the amount so that the
// commitment balance is BalanceBefore - Amount - Fee.
func NewSend(hdr TxHeader, amount *big.Int, fee Fee, hash commitment.Hash, meta *Metadata) *Send {
	return &Send{
		TxHeader:       hdr,
		Amount:         fee.SendAmount(amount),
		Fee:            fee.ComputationFee(),
		CommitmentHash: hash,
		Metadata:       meta,
	}
}

// Uint64Ptr is a helper for optional start indices.
func Uint64Ptr(v uint64) *uint64 {
	return &v
}
