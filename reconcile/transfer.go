package reconcile

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// Transfer describes one ics20 transfer as the sender submitted it.
type Transfer struct {
	// Trace of the token as the sender holds it.
	Trace  ibc.DenomTrace
	Amount sdkmath.Int

	SourcePort    string
	SourceChannel string
	DestPort      string
	DestChannel   string

	// Ratio scales the amount credited on the receiving ledger, for ledgers
	// whose native tokens differ in decimals. Nil means 1.
	Ratio sdkmath.Int
	// ReceiveDenom overrides the derived receiving denom, for tokens the
	// receiving ledger maps to a native denom.
	ReceiveDenom string
	// SenderFees are the tx fees the sender paid for the transfer tx.
	SenderFees sdk.Coins
}

// NewTransfer describes a transfer of a token native to the sender's ledger
// over the transfer port.
func NewTransfer(denom string, amount sdkmath.Int, srcChannel, dstChannel string) Transfer {
	return Transfer{
		Trace:         ibc.NewDenomTrace(denom),
		Amount:        amount,
		SourcePort:    ibc.TransferPortID,
		SourceChannel: srcChannel,
		DestPort:      ibc.TransferPortID,
		DestChannel:   dstChannel,
	}
}

// Reverse describes sending amount of the received token back the way it came.
func (t Transfer) Reverse(amount sdkmath.Int) Transfer {
	return Transfer{
		Trace:         t.ReceiveTrace(),
		Amount:        amount,
		SourcePort:    t.DestPort,
		SourceChannel: t.DestChannel,
		DestPort:      t.SourcePort,
		DestChannel:   t.SourceChannel,
	}
}

func (t Transfer) Validate() error {
	if t.Amount.IsNil() || !t.Amount.IsPositive() {
		return fmt.Errorf("transfer amount must be positive")
	}
	if !t.Ratio.IsNil() && !t.Ratio.IsPositive() {
		return fmt.Errorf("transfer ratio must be positive")
	}
	if err := t.Trace.Validate(); err != nil {
		return fmt.Errorf("invalid transfer trace: %w", err)
	}
	for _, hop := range []ibc.Hop{{PortID: t.SourcePort, ChannelID: t.SourceChannel}, {PortID: t.DestPort, ChannelID: t.DestChannel}} {
		if err := hop.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SendDenom is the denom debited from the sender.
func (t Transfer) SendDenom() string {
	return t.Trace.IBCDenom()
}

// ReceiveTrace is the trace of the token on the receiving ledger.
func (t Transfer) ReceiveTrace() ibc.DenomTrace {
	return t.Trace.Receive(t.SourcePort, t.SourceChannel, t.DestPort, t.DestChannel)
}

// ReceivedDenom is the denom credited to the receiver.
func (t Transfer) ReceivedDenom() string {
	if t.ReceiveDenom != "" {
		return t.ReceiveDenom
	}
	return t.ReceiveTrace().IBCDenom()
}

// ReceivedAmount is the amount credited to the receiver.
func (t Transfer) ReceivedAmount() sdkmath.Int {
	if t.Ratio.IsNil() {
		return t.Amount
	}
	return t.Amount.Mul(t.Ratio)
}

// SenderDebit is what the sender loses in denom: the amount when denom is the
// sent one, plus any tx fee paid in denom.
func (t Transfer) SenderDebit(denom string) sdkmath.Int {
	debit := t.SenderFees.AmountOfNoDenomValidation(denom)
	if denom == t.SendDenom() {
		debit = debit.Add(t.Amount)
	}
	return debit
}
