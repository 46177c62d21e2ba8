package reconcile

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// Kind names the scenario a report reconciles.
type Kind string

const (
	KindPlain        Kind = "plain"
	KindEscrow       Kind = "escrow"
	KindIncentivized Kind = "incentivized"
	KindRoundTrip    Kind = "round_trip"
	KindBalances     Kind = "balances"
)

// Status of a reconciliation.
type Status int

const (
	// Pending means the observed state is an expected intermediate one;
	// keep polling.
	Pending Status = iota
	// Settled means every invariant holds on the final state.
	Settled
	// Violated means at least one invariant failed.
	Violated
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Settled:
		return "settled"
	case Violated:
		return "violated"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Report is the outcome of one reconciliation.
type Report struct {
	Kind       Kind
	Status     Status
	Violations []*ibc.InvariantViolation
	// Reason says what a pending report is waiting for.
	Reason string
}

// Err combines every violation, nil unless Violated.
func (r Report) Err() error {
	var err error
	for _, v := range r.Violations {
		err = multierr.Append(err, v)
	}
	return err
}

func (r Report) Settled() bool { return r.Status == Settled }

func (r Report) Pending() bool { return r.Status == Pending }

func (r Report) String() string {
	switch r.Status {
	case Pending:
		return fmt.Sprintf("%s: pending (%s)", r.Kind, r.Reason)
	case Violated:
		return fmt.Sprintf("%s: violated: %v", r.Kind, r.Err())
	default:
		return fmt.Sprintf("%s: %s", r.Kind, r.Status)
	}
}

// checker accumulates invariant checks for one report.
type checker struct {
	kind       Kind
	violations []*ibc.InvariantViolation
}

func (c *checker) equal(invariant, subject string, expected, observed fmt.Stringer) {
	if expected.String() == observed.String() {
		return
	}
	c.violations = append(c.violations, &ibc.InvariantViolation{
		Invariant: invariant,
		Subject:   subject,
		Expected:  expected.String(),
		Observed:  observed.String(),
	})
}

func (c *checker) fail(v *ibc.InvariantViolation) {
	c.violations = append(c.violations, v)
}

func (c *checker) report() Report {
	if len(c.violations) > 0 {
		return Report{Kind: c.kind, Status: Violated, Violations: c.violations}
	}
	return Report{Kind: c.kind, Status: Settled}
}

func pending(kind Kind, reason string) Report {
	return Report{Kind: kind, Status: Pending, Reason: reason}
}
