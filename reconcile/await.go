package reconcile

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/testutil"
)

// Observe produces a fresh report from current ledger state.
type Observe func(ctx context.Context) (Report, error)

// Await polls observe until its report settles. A violated report aborts the
// wait at once; a wait that times out returns the last pending report with the
// timeout error.
func Await(ctx context.Context, p testutil.Poller, description string, observe Observe) (Report, error) {
	_, report, err := await(ctx, p, description, func(ctx context.Context) (struct{}, Report, error) {
		r, err := observe(ctx)
		return struct{}{}, r, err
	})
	return report, err
}

// AwaitRoundTrip polls balance until the next return leg of rt lands and
// returns the advanced round trip.
func (m Model) AwaitRoundTrip(ctx context.Context, p testutil.Poller, rt RoundTrip, balance func(ctx context.Context) (sdkmath.Int, error)) (RoundTrip, Report, error) {
	description := fmt.Sprintf("return leg %d/%d of %s", rt.Settled()+1, rt.Legs, rt.Denom)
	return await(ctx, p, description, func(ctx context.Context) (RoundTrip, Report, error) {
		b, err := balance(ctx)
		if err != nil {
			return rt, Report{}, ibc.Transient("query balance", err)
		}
		next, r := m.RoundTrip(rt, b)
		return next, r, nil
	})
}

type observation[S any] struct {
	state  S
	report Report
}

// await polls observe until its report settles, carrying the observed state
// alongside the report.
func await[S any](ctx context.Context, p testutil.Poller, description string, observe func(ctx context.Context) (S, Report, error)) (S, Report, error) {
	obs, err := testutil.Poll(ctx, p, description, func(ctx context.Context) (testutil.Result[observation[S]], error) {
		state, r, err := observe(ctx)
		if err != nil {
			return testutil.NotYet[observation[S]](), err
		}
		o := observation[S]{state: state, report: r}
		switch r.Status {
		case Settled:
			return testutil.Ready(o), nil
		case Violated:
			return testutil.Pending(o), r.Err()
		default:
			return testutil.Pending(o), nil
		}
	})
	return obs.state, obs.report, err
}
