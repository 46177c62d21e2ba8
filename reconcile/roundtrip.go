package reconcile

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// RoundTrip tracks the sender's balance while tokens sent out come back in
// equal return legs. A value is immutable; Observe returns the next state.
type RoundTrip struct {
	Denom    string
	Original sdkmath.Int
	Amount   sdkmath.Int
	Legs     int64

	settled int64
}

// NewRoundTrip starts tracking after amount of denom left a balance of original.
// amount must split evenly into legs.
func NewRoundTrip(denom string, original, amount sdkmath.Int, legs int64) (RoundTrip, error) {
	if legs <= 0 {
		return RoundTrip{}, fmt.Errorf("round trip needs at least one return leg")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return RoundTrip{}, fmt.Errorf("round trip amount must be positive")
	}
	if !amount.ModRaw(legs).IsZero() {
		return RoundTrip{}, fmt.Errorf("amount %s does not split into %d legs", amount, legs)
	}
	if original.LT(amount) {
		return RoundTrip{}, fmt.Errorf("original balance %s is below the amount %s", original, amount)
	}
	return RoundTrip{Denom: denom, Original: original, Amount: amount, Legs: legs}, nil
}

// LegAmount is the amount returned per leg.
func (r RoundTrip) LegAmount() sdkmath.Int {
	return r.Amount.QuoRaw(r.Legs)
}

// Settled is the number of return legs observed so far.
func (r RoundTrip) Settled() int64 {
	return r.settled
}

// Done reports whether every leg has come back.
func (r RoundTrip) Done() bool {
	return r.settled >= r.Legs
}

// Current is the balance expected before the next leg lands.
func (r RoundTrip) Current() sdkmath.Int {
	return r.Original.Sub(r.Amount).Add(r.LegAmount().MulRaw(r.settled))
}

// Next is the balance expected once the next leg lands.
func (r RoundTrip) Next() sdkmath.Int {
	return r.Current().Add(r.LegAmount())
}

// Observe compares balance against the expected progression. An unchanged
// balance is pending, the next expected balance settles one leg, anything
// else (overshooting the original, going backwards or skipping) is a violation.
func (r RoundTrip) Observe(balance sdkmath.Int) (RoundTrip, Report) {
	subject := fmt.Sprintf("return leg %d/%d %s", r.settled+1, r.Legs, r.Denom)
	switch {
	case r.Done():
		if balance.Equal(r.Original) {
			return r, Report{Kind: KindRoundTrip, Status: Settled}
		}
		return r, violated(ibc.Violation("round_trip_complete", r.Denom, r.Original, balance))
	case balance.Equal(r.Current()):
		return r, pending(KindRoundTrip, subject+" not received yet")
	case balance.GT(r.Original):
		return r, violated(ibc.Violation("round_trip_overshoot", subject, "at most "+r.Original.String(), balance))
	case balance.Equal(r.Next()):
		r.settled++
		return r, Report{Kind: KindRoundTrip, Status: Settled}
	default:
		return r, violated(ibc.Violation("round_trip_monotonic", subject, r.Next(), balance))
	}
}

func violated(v *ibc.InvariantViolation) Report {
	return Report{Kind: KindRoundTrip, Status: Violated, Violations: []*ibc.InvariantViolation{v}}
}
