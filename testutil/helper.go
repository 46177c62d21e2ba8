package testutil

import (
	"context"
	"fmt"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

func AssertBalance(t *testing.T, ctx context.Context, chain ibc.BalanceQuerier, address string, denom string, expectedBalance sdkmath.Int) {
	balance, err := chain.GetBalance(ctx, address, denom)
	require.NoError(t, err)
	require.True(t, expectedBalance.Equal(balance), "balance of %s in %s: expected %s, got %s", address, denom, expectedBalance, balance)
}

// WaitForBalanceChange waits until the balance of address in denom differs from
// prev and returns the new balance.
func WaitForBalanceChange(ctx context.Context, p Poller, chain ibc.BalanceQuerier, address, denom string, prev sdkmath.Int) (sdkmath.Int, error) {
	return Poll(ctx, p, fmt.Sprintf("balance change of %s in %s", address, denom), func(ctx context.Context) (Result[sdkmath.Int], error) {
		balance, err := chain.GetBalance(ctx, address, denom)
		if err != nil {
			return NotYet[sdkmath.Int](), err
		}
		if balance.Equal(prev) {
			return NotYet[sdkmath.Int](), nil
		}
		return Ready(balance), nil
	})
}

// WaitForTxCount waits until more than n txs sent by address are indexed and
// returns the count.
func WaitForTxCount(ctx context.Context, p Poller, chain ibc.EventQuerier, address string, n int) (int, error) {
	query := fmt.Sprintf("message.sender='%s'", address)
	return Poll(ctx, p, fmt.Sprintf("more than %d txs from %s", n, address), func(ctx context.Context) (Result[int], error) {
		txs, err := chain.QueryTxs(ctx, query)
		if err != nil {
			return NotYet[int](), err
		}
		if len(txs) <= n {
			return NotYet[int](), nil
		}
		return Ready(len(txs)), nil
	})
}

// WaitForHeight waits until the ledger reaches height.
func WaitForHeight(ctx context.Context, p Poller, chain interface {
	Height(ctx context.Context) (uint64, error)
}, height uint64) (uint64, error) {
	return Poll(ctx, p, fmt.Sprintf("height %d", height), func(ctx context.Context) (Result[uint64], error) {
		h, err := chain.Height(ctx)
		if err != nil {
			return NotYet[uint64](), err
		}
		if h < height {
			return NotYet[uint64](), nil
		}
		return Ready(h), nil
	})
}
