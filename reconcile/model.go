package reconcile

import (
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/metrics"
)

// Model checks the accounting invariants of transfers. It holds configuration
// only and is safe for concurrent use.
type Model struct {
	// Relayer is the account paid relayer fees.
	Relayer string
	// RelayerCaller optionally shares the relayer reward.
	RelayerCaller string
	Split         SplitPolicy
	Escrow        EscrowPolicy

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

func (m Model) finish(r Report) Report {
	m.Metrics.Reconciled(string(r.Kind), r.Status.String())
	for _, v := range r.Violations {
		m.Metrics.Violation(v.Invariant)
	}
	if m.Logger != nil && r.Status == Violated {
		m.Logger.Warn("reconciliation failed", zap.String("kind", string(r.Kind)), zap.Error(r.Err()))
	}
	return r
}

// PlainObservation holds the balances around a plain transfer.
type PlainObservation struct {
	SenderBefore, SenderAfter     Snapshot
	ReceiverBefore, ReceiverAfter Snapshot
}

// Plain reconciles a transfer without fees. It stays pending until the
// receiver's balance in the received denom moves.
func (m Model) Plain(t Transfer, obs PlainObservation) Report {
	c := checker{kind: KindPlain}
	if err := t.Validate(); err != nil {
		c.fail(&ibc.InvariantViolation{Invariant: "transfer", Subject: "transfer", Expected: "valid transfer", Observed: err.Error()})
		return m.finish(c.report())
	}

	recvDenom := t.ReceivedDenom()
	credit := Delta(obs.ReceiverBefore, obs.ReceiverAfter, recvDenom)
	if credit.IsZero() {
		return m.finish(pending(KindPlain, "receiver not credited in "+recvDenom))
	}

	c.equal("receiver_credit", obs.ReceiverAfter.Name+" "+recvDenom, t.ReceivedAmount(), credit)

	sendDenom := t.SendDenom()
	expected := obs.SenderBefore.AmountOf(sendDenom).Sub(t.SenderDebit(sendDenom))
	c.equal("sender_debit", obs.SenderAfter.Name+" "+sendDenom, expected, obs.SenderAfter.AmountOf(sendDenom))
	return m.finish(c.report())
}

// EscrowLocked reconciles paying a packet fee, with after captured once the
// pay tx committed. The payer must have lost the locked amount, or the payout
// when relayers were already paid and the rest refunded (plus txFees in the fee
// denom either way). Anything else, no debit included, is a violation.
func (m Model) EscrowLocked(fee FeeSchedule, before, after Snapshot, txFees sdk.Coins) Report {
	c := checker{kind: KindEscrow}
	if err := fee.Validate(); err != nil {
		c.fail(&ibc.InvariantViolation{Invariant: "fee_schedule", Subject: "fee", Expected: "valid fee", Observed: err.Error()})
		return m.finish(c.report())
	}
	debit := Delta(after, before, fee.Denom).Sub(txFees.AmountOfNoDenomValidation(fee.Denom))
	locked := fee.Locked(m.Escrow)
	for _, outcome := range []Outcome{Acknowledged, TimedOut} {
		if payout := fee.Payout(outcome); debit.Equal(payout) && !payout.Equal(locked) {
			if m.Logger != nil {
				m.Logger.Debug("fee already distributed", zap.String("account", after.Name), zap.Stringer("outcome", outcome))
			}
			return m.finish(c.report())
		}
	}
	c.equal("fee_escrow_lock", after.Name+" "+fee.Denom, locked, debit)
	return m.finish(c.report())
}

// IncentivizedObservation holds the fee denom balances around an incentivized
// packet, from before the fee was paid to after it settled.
type IncentivizedObservation struct {
	Fee     FeeSchedule
	Outcome Outcome

	SenderBefore, SenderAfter   Snapshot
	RelayerBefore, RelayerAfter Snapshot
	// CallerBefore and CallerAfter are ignored when the model has no RelayerCaller.
	CallerBefore, CallerAfter Snapshot

	// SenderTxFees are the tx fees the sender paid while sending and paying.
	SenderTxFees sdk.Coins
}

// Incentivized reconciles fee distribution. It stays pending until a relayer
// account is credited and the payer's refund has arrived.
func (m Model) Incentivized(obs IncentivizedObservation) Report {
	c := checker{kind: KindIncentivized}
	fee := obs.Fee
	if err := fee.Validate(); err != nil {
		c.fail(&ibc.InvariantViolation{Invariant: "fee_schedule", Subject: "fee", Expected: "valid fee", Observed: err.Error()})
		return m.finish(c.report())
	}

	relayerGain := Delta(obs.RelayerBefore, obs.RelayerAfter, fee.Denom)
	callerGain := sdkmath.ZeroInt()
	if m.RelayerCaller != "" {
		callerGain = Delta(obs.CallerBefore, obs.CallerAfter, fee.Denom)
	}
	if !relayerGain.IsPositive() && !callerGain.IsPositive() {
		return m.finish(pending(KindIncentivized, "relayer not paid yet"))
	}

	txFees := obs.SenderTxFees.AmountOfNoDenomValidation(fee.Denom)
	senderDebit := Delta(obs.SenderAfter, obs.SenderBefore, fee.Denom).Sub(txFees)
	locked := fee.Locked(m.Escrow)
	payout := fee.Payout(obs.Outcome)
	if senderDebit.Equal(locked) && !locked.Equal(payout) {
		return m.finish(pending(KindIncentivized, "refund not received yet"))
	}

	m.checkSplit(&c, fee, obs.Outcome, relayerGain, callerGain)
	c.equal("fee_net_debit", obs.SenderAfter.Name+" "+fee.Denom, payout, senderDebit)
	return m.finish(c.report())
}

func (m Model) checkSplit(c *checker, fee FeeSchedule, outcome Outcome, relayerGain, callerGain sdkmath.Int) {
	payout := fee.Payout(outcome)
	relayerSubject, callerSubject := "relayer "+fee.Denom, "relayer caller "+fee.Denom

	if m.RelayerCaller == "" {
		c.equal("relayer_reward", relayerSubject, payout, relayerGain)
		return
	}

	switch {
	case m.Split == SplitByComponent && outcome == Acknowledged:
		c.equal("relayer_reward", relayerSubject, fee.Recv, relayerGain)
		c.equal("relayer_caller_reward", callerSubject, fee.Ack, callerGain)
	case callerGain.IsPositive():
		// the caller took part, the reward must be split exactly in two
		half := payout.QuoRaw(2)
		if !half.MulRaw(2).Equal(payout) {
			c.fail(ibc.Violation("even_split", "relayer reward "+fee.Denom, "an even payout", payout))
			return
		}
		c.equal("relayer_reward", relayerSubject, half, relayerGain)
		c.equal("relayer_caller_reward", callerSubject, half, callerGain)
	default:
		c.equal("relayer_reward", relayerSubject, payout, relayerGain)
	}
}

// Balances checks that a snapshot holds exactly want, no more denoms and no less.
func (m Model) Balances(got Snapshot, want sdk.Coins) Report {
	c := checker{kind: KindBalances}
	c.equal("balances", got.Name+" "+got.Address, want.Sort(), got.Balances.Sort())
	return m.finish(c.report())
}

// RoundTrip observes one round trip balance and records the outcome.
func (m Model) RoundTrip(r RoundTrip, balance sdkmath.Int) (RoundTrip, Report) {
	next, report := r.Observe(balance)
	return next, m.finish(report)
}
