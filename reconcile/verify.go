package reconcile

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// VerifyDenomTrace checks that the ledger resolves the hash of expected back
// to expected.
func VerifyDenomTrace(ctx context.Context, q ibc.DenomTraceQuerier, expected ibc.DenomTrace) error {
	got, err := q.QueryDenomTrace(ctx, expected.Hash())
	if err != nil {
		return fmt.Errorf("failed to query denom trace %s: %w", expected.Hash(), err)
	}
	if !got.Equal(expected) {
		return &ibc.InvariantViolation{
			Invariant: "denom_trace",
			Subject:   expected.IBCDenom(),
			Expected:  expected.FullPath(),
			Observed:  got.FullPath(),
		}
	}
	return nil
}

// CheckTxFee checks that the fee a tx paid, as reported by its "tx" event,
// equals gas wanted times gasPrice in denom.
func CheckTxFee(res ibc.TxResult, denom string, gasPrice sdkmath.Int) error {
	raw, err := events.Parse(res.Events).Get(events.TypeTx, "fee")
	if err != nil {
		return err
	}
	paid, err := sdk.ParseCoinsNormalized(raw)
	if err != nil {
		return fmt.Errorf("invalid tx fee %q: %w", raw, err)
	}
	expected := gasPrice.MulRaw(res.GasWanted)
	if got := paid.AmountOfNoDenomValidation(denom); !got.Equal(expected) {
		return &ibc.InvariantViolation{
			Invariant: "tx_fee",
			Subject:   res.TxHash,
			Expected:  sdk.NewCoin(denom, expected).String(),
			Observed:  raw,
		}
	}
	return nil
}
