// ledger.go - Persistent, append-only transaction history for one user.
//
// The Ledger records every topup and send the user drafted, keyed by nonce.
// It answers the two questions the commitment manager asks: which
// transactions make up the current active window of a token, and what the
// private balance was right before a given nonce. It is persisted as a single
// JSON file.
//
// Ledger is safe for concurrent use.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"sync"

	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

var ErrDuplicateNonce = errors.New("duplicate nonce: transaction already in ledger")

// Ledger is the user's append-only transaction history.
type Ledger struct {
	mu     sync.RWMutex
	txs    []transactions.Transaction
	nonces map[uint64]struct{}
}

// NewLedger creates a new, empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		txs:    make([]transactions.Transaction, 0),
		nonces: make(map[uint64]struct{}),
	}
}

// Append records tx. Nonces are unique across all token types.
func (l *Ledger) Append(tx transactions.Transaction) error {
	if tx == nil {
		return errors.New("nil transaction")
	}
	hdr := tx.Header()
	if _, err := tokentype.ID(hdr.TokenType); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.nonces[hdr.Nonce]; ok {
		return fmt.Errorf("%w: nonce %d", ErrDuplicateNonce, hdr.Nonce)
	}
	l.nonces[hdr.Nonce] = struct{}{}
	l.txs = append(l.txs, tx)
	return nil
}

// HasNonce returns true if a transaction with this nonce was recorded.
func (l *Ledger) HasNonce(nonce uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.nonces[nonce]
	return ok
}

// Len returns the number of recorded transactions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}

// Transactions returns the transactions of one token ordered by nonce.
func (l *Ledger) Transactions(tokenType tokentype.TokenType) []transactions.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byToken(tokenType)
}

func (l *Ledger) byToken(tokenType tokentype.TokenType) []transactions.Transaction {
	out := make([]transactions.Transaction, 0)
	for _, tx := range l.txs {
		if tx.Header().TokenType == tokenType {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Header().Nonce < out[j].Header().Nonce
	})
	return out
}

// Pending returns the active window of tokenType, oldest to newest: the most
// recent send (whose change commitment holds the balance) followed by every
// topup drafted after it. When before is non-nil only transactions with a
// nonce strictly below before's nonce are considered.
func (l *Ledger) Pending(ctx context.Context, tokenType tokentype.TokenType, before *transactions.Send) ([]transactions.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := tokentype.ID(tokenType); err != nil {
		return nil, err
	}

	l.mu.RLock()
	txs := l.byToken(tokenType)
	l.mu.RUnlock()

	if before != nil {
		cut := sort.Search(len(txs), func(i int) bool {
			return txs[i].Header().Nonce >= before.Nonce
		})
		txs = txs[:cut]
	}

	start := 0
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].Kind() == transactions.KindSend {
			start = i
			break
		}
	}
	return txs[start:], nil
}

// BalanceBeforeNonce replays every recorded transaction of tokenType with a
// nonce below the given one. Topups add their amount, sends subtract amount
// plus fee.
func (l *Ledger) BalanceBeforeNonce(ctx context.Context, tokenType tokentype.TokenType, nonce uint64) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := tokentype.ID(tokenType); err != nil {
		return nil, err
	}

	l.mu.RLock()
	txs := l.byToken(tokenType)
	l.mu.RUnlock()

	balance := new(big.Int)
	for _, tx := range txs {
		if tx.Header().Nonce >= nonce {
			break
		}
		switch v := tx.(type) {
		case *transactions.Topup:
			if v.Amount != nil {
				balance.Add(balance, v.Amount)
			}
		case *transactions.Send:
			if v.Amount != nil {
				balance.Sub(balance, v.Amount)
			}
			if v.Fee != nil {
				balance.Sub(balance, v.Fee)
			}
		}
	}
	return balance, nil
}

type ledgerFile struct {
	Txs []transactions.Envelope `json:"txs"`
}

// SaveToFile saves the ledger to a JSON file, overwriting it if it exists.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.RLock()
	file := ledgerFile{Txs: make([]transactions.Envelope, len(l.txs))}
	for i, tx := range l.txs {
		file.Txs[i] = transactions.Wrap(tx)
	}
	l.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(file)
}

// LoadFromFile loads a ledger from a JSON file.
// Returns an error if the file is invalid or cannot be read.
func LoadFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var file ledgerFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	l := NewLedger()
	for i, env := range file.Txs {
		tx, err := env.Transaction()
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", i, err)
		}
		if err := l.Append(tx); err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", i, err)
		}
	}
	return l, nil
}

// LoadOrCreate loads the ledger at path, or returns an empty one if the file
// does not exist yet.
func LoadOrCreate(path string) (*Ledger, error) {
	l, err := LoadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewLedger(), nil
	}
	return l, err
}
