package tokentype

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	for i, tt := range All() {
		id, err := ID(tt)
		require.NoError(t, err)
		require.EqualValues(t, i, id)

		back, err := FromID(id)
		require.NoError(t, err)
		require.Equal(t, tt, back)
	}
}

func TestStableIDs(t *testing.T) {
	id, err := ID(Lamports)
	require.NoError(t, err)
	require.EqualValues(t, 0, id)

	id, err = ID(USDC)
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	id, err = ID(PYTH)
	require.NoError(t, err)
	require.EqualValues(t, 9, id)
}

func TestUnknownTokenType(t *testing.T) {
	_, err := ID("DOGE")
	require.True(t, errors.Is(err, ErrUnknownTokenType))

	_, err = FromID(10)
	require.ErrorIs(t, err, ErrUnknownTokenType)

	_, err = Parse("usdc")
	require.ErrorIs(t, err, ErrUnknownTokenType)

	_, err = Info("")
	require.ErrorIs(t, err, ErrUnknownTokenType)
}

func TestInfo(t *testing.T) {
	info, err := Info(USDC)
	require.NoError(t, err)
	require.Equal(t, USDC, info.Symbol)
	require.EqualValues(t, 6, info.Decimals)
	require.EqualValues(t, 1_000_000, info.Denomination)
}
