// tokentype.go - Token type table for the private pool.
//
// Every asset the pool accepts has a stable 16-bit id. The id is part of each
// commitment preimage, so the order of the table below must never change.

package tokentype

import (
	"errors"
	"fmt"
)

// ErrUnknownTokenType is returned for any symbol or id outside the table.
var ErrUnknownTokenType = errors.New("unknown token type")

// TokenType is the symbol of a supported asset, e.g. "USDC".
type TokenType string

const (
	Lamports TokenType = "LAMPORTS"
	USDC     TokenType = "USDC"
	USDT     TokenType = "USDT"
	MSOL     TokenType = "mSOL"
	BONK     TokenType = "BONK"
	SAMO     TokenType = "SAMO"
	STSOL    TokenType = "stSOL"
	ORCA     TokenType = "ORCA"
	RAY      TokenType = "RAY"
	PYTH     TokenType = "PYTH"
)

// TokenInfo holds static information about a token type.
// Amounts are given in the smallest unit of the token.
type TokenInfo struct {
	Symbol       TokenType
	Decimals     uint8
	Denomination uint64
	Min          uint64
	Max          uint64
}

var table = []TokenInfo{
	{Symbol: Lamports, Decimals: 9, Denomination: 1_000_000_000, Min: 10_000_000, Max: 1_000_000_000_000},
	{Symbol: USDC, Decimals: 6, Denomination: 1_000_000, Min: 1_000_000, Max: 1_000_000_000},
	{Symbol: USDT, Decimals: 6, Denomination: 1_000_000, Min: 1_000_000, Max: 1_000_000_000},
	{Symbol: MSOL, Decimals: 9, Denomination: 1_000_000_000, Min: 10_000_000, Max: 1_000_000_000_000},
	{Symbol: BONK, Decimals: 5, Denomination: 100_000, Min: 10_000_000_000, Max: 10_000_000_000_000_000},
	{Symbol: SAMO, Decimals: 9, Denomination: 1_000_000_000, Min: 100_000_000_000, Max: 100_000_000_000_000_000},
	{Symbol: STSOL, Decimals: 9, Denomination: 1_000_000_000, Min: 10_000_000, Max: 1_000_000_000_000},
	{Symbol: ORCA, Decimals: 6, Denomination: 1_000_000, Min: 1_000_000, Max: 1_000_000_000_000},
	{Symbol: RAY, Decimals: 6, Denomination: 1_000_000, Min: 1_000_000, Max: 1_000_000_000_000},
	{Symbol: PYTH, Decimals: 6, Denomination: 1_000_000, Min: 1_000_000, Max: 1_000_000_000_000},
}

// ID returns the numeric id of t as used inside commitments.
func ID(t TokenType) (uint16, error) {
	for i, info := range table {
		if info.Symbol == t {
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTokenType, string(t))
}

// FromID is the inverse of ID.
func FromID(id uint16) (TokenType, error) {
	if int(id) >= len(table) {
		return "", fmt.Errorf("%w: id %d", ErrUnknownTokenType, id)
	}
	return table[id].Symbol, nil
}

// Parse validates a symbol given as a plain string (config files, flags).
func Parse(s string) (TokenType, error) {
	t := TokenType(s)
	if _, err := ID(t); err != nil {
		return "", err
	}
	return t, nil
}

// Info returns the static token information for t.
func Info(t TokenType) (TokenInfo, error) {
	id, err := ID(t)
	if err != nil {
		return TokenInfo{}, err
	}
	return table[id], nil
}

// All returns every supported token type ordered by id.
func All() []TokenType {
	out := make([]TokenType, len(table))
	for i, info := range table {
		out[i] = info.Symbol
	}
	return out
}

func (t TokenType) String() string {
	return string(t)
}
