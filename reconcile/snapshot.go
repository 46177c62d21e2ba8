package reconcile

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"golang.org/x/sync/errgroup"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// Account is an address on one ledger whose balances take part in a reconciliation.
type Account struct {
	// Name labels the account in reports, e.g. "sender".
	Name    string
	Chain   ibc.BalanceQuerier
	Address string
}

// Snapshot holds the balances of one account at one point in time.
type Snapshot struct {
	Name     string
	Address  string
	Balances sdk.Coins
}

// AmountOf returns the balance in denom, zero when absent.
func (s Snapshot) AmountOf(denom string) sdkmath.Int {
	return s.Balances.AmountOfNoDenomValidation(denom)
}

// Delta returns after - before in denom.
func Delta(before, after Snapshot, denom string) sdkmath.Int {
	return after.AmountOf(denom).Sub(before.AmountOf(denom))
}

// Capture reads every balance of acc.
func Capture(ctx context.Context, acc Account) (Snapshot, error) {
	balances, err := acc.Chain.AllBalances(ctx, acc.Address)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query balances of %s (%s): %w", acc.Name, acc.Address, err)
	}
	return Snapshot{Name: acc.Name, Address: acc.Address, Balances: balances}, nil
}

// CaptureAll snapshots every account concurrently. Snapshots are returned in
// the order of accounts.
func CaptureAll(ctx context.Context, accounts ...Account) ([]Snapshot, error) {
	snaps := make([]Snapshot, len(accounts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, acc := range accounts {
		i, acc := i, acc
		eg.Go(func() error {
			snap, err := Capture(egCtx, acc)
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}
