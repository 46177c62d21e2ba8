package reconcile

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// EscrowPolicy is how much the fee module locks from the payer.
type EscrowPolicy int

const (
	// EscrowMax locks max(recv+ack, timeout), the behavior since ibc-go 8.1.
	EscrowMax EscrowPolicy = iota
	// EscrowSum locks recv+ack+timeout.
	EscrowSum
)

func (p EscrowPolicy) String() string {
	switch p {
	case EscrowMax:
		return "max"
	case EscrowSum:
		return "sum"
	default:
		return fmt.Sprintf("EscrowPolicy(%d)", int(p))
	}
}

func ParseEscrowPolicy(s string) (EscrowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max":
		return EscrowMax, nil
	case "sum":
		return EscrowSum, nil
	default:
		return 0, fmt.Errorf("unknown escrow policy %q", s)
	}
}

// SplitPolicy is how a relayer reward is expected to be divided between the
// relayer account and the relayer caller account.
type SplitPolicy int

const (
	// SplitEven expects an exact even split when the caller was paid at all,
	// and the whole reward on the relayer otherwise.
	SplitEven SplitPolicy = iota
	// SplitByComponent expects the recv fee on the relayer (forward relayer)
	// and the ack fee on the caller (reverse relayer).
	SplitByComponent
)

func (p SplitPolicy) String() string {
	switch p {
	case SplitEven:
		return "even"
	case SplitByComponent:
		return "component"
	default:
		return fmt.Sprintf("SplitPolicy(%d)", int(p))
	}
}

func ParseSplitPolicy(s string) (SplitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "even":
		return SplitEven, nil
	case "component", "by_component":
		return SplitByComponent, nil
	default:
		return 0, fmt.Errorf("unknown split policy %q", s)
	}
}

// Outcome is how a packet lifecycle ended.
type Outcome int

const (
	Acknowledged Outcome = iota
	TimedOut
)

func (o Outcome) String() string {
	if o == TimedOut {
		return "timeout"
	}
	return "ack"
}

// FeeSchedule is the incentive paid for one packet, in a single denom.
type FeeSchedule struct {
	Denom   string
	Recv    sdkmath.Int
	Ack     sdkmath.Int
	Timeout sdkmath.Int
}

// NewFeeSchedule uses the same amount for every component.
func NewFeeSchedule(denom string, each sdkmath.Int) FeeSchedule {
	return FeeSchedule{Denom: denom, Recv: each, Ack: each, Timeout: each}
}

func (f FeeSchedule) Validate() error {
	if err := sdk.ValidateDenom(f.Denom); err != nil {
		return fmt.Errorf("invalid fee denom: %w", err)
	}
	for name, amt := range map[string]sdkmath.Int{"recv": f.Recv, "ack": f.Ack, "timeout": f.Timeout} {
		if amt.IsNil() || amt.IsNegative() {
			return fmt.Errorf("%s fee must be non-negative", name)
		}
	}
	return nil
}

// Fee converts the schedule to coins for a pay packet fee tx.
func (f FeeSchedule) Fee() ibc.Fee {
	coins := func(amt sdkmath.Int) sdk.Coins {
		return sdk.NewCoins(sdk.NewCoin(f.Denom, amt))
	}
	return ibc.Fee{RecvFee: coins(f.Recv), AckFee: coins(f.Ack), TimeoutFee: coins(f.Timeout)}
}

// Locked is what paying the fee takes from the payer.
func (f FeeSchedule) Locked(policy EscrowPolicy) sdkmath.Int {
	success := f.Recv.Add(f.Ack)
	if policy == EscrowSum {
		return success.Add(f.Timeout)
	}
	return sdkmath.MaxInt(success, f.Timeout)
}

// Payout is what relayers earn in total for outcome.
func (f FeeSchedule) Payout(outcome Outcome) sdkmath.Int {
	if outcome == TimedOut {
		return f.Timeout
	}
	return f.Recv.Add(f.Ack)
}

// Refund is what goes back to the payer once the packet settles.
func (f FeeSchedule) Refund(outcome Outcome, policy EscrowPolicy) sdkmath.Int {
	return f.Locked(policy).Sub(f.Payout(outcome))
}
