package tests

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/dymensionxyz/ibc-convergence/cosmos"
	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/reconcile"
	"github.com/dymensionxyz/ibc-convergence/scenario"
	"github.com/dymensionxyz/ibc-convergence/testutil"
	"github.com/dymensionxyz/ibc-convergence/testutil/simnet"
)

// TestIncentivizedTransfer pays a packet fee and checks that the relayer is
// paid recv plus ack and the payer gets the rest back.
func TestIncentivizedTransfer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetRelayDelay(50 * time.Millisecond)

	relayer := n.hub.Address(simnet.RelayerKey)
	n.cfg.Reconcile.Relayer = relayer
	env := n.env(t)
	require.Equal(t, reconcile.EscrowMax, env.Model.Escrow)

	fee := reconcile.FeeSchedule{Denom: "ibcfee", Recv: math.NewInt(10), Ack: math.NewInt(20), Timeout: math.NewInt(10)}
	res, err := scenario.IncentivizedTransfer(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 1_000), fee)
	require.NoError(t, err)
	require.True(t, res.Fee.Settled(), res.Fee.String())

	testutil.AssertBalance(t, ctx, n.hub, relayer, "ibcfee", math.NewInt(30))
	testutil.AssertBalance(t, ctx, n.hub, n.src.Address, "ibcfee", math.NewInt(1_000-30))
	_, err = n.hub.IncentivizedPacket(ctx, res.Packet.ID())
	require.Error(t, err, "fees still escrowed after settlement")
}

// TestIncentivizedTransferRelayerCaller registers a counterparty payee given as
// a hex address in the config and checks the reward is shared evenly.
func TestIncentivizedTransferRelayerCaller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetRelayDelay(50 * time.Millisecond)

	relayer := n.hub.Address(simnet.RelayerKey)
	caller := n.hub.AddAccount("caller")
	callerHex, err := cosmos.Bech32ToHex(caller)
	require.NoError(t, err)
	_, err = n.remote.Submit(ctx, ibc.RegisterPayeeTx{
		From:         simnet.RelayerKey,
		PortID:       ibc.TransferPortID,
		ChannelID:    n.dst.Channel,
		Relayer:      simnet.RelayerKey,
		Payee:        caller,
		Counterparty: true,
	})
	require.NoError(t, err)

	n.cfg.Reconcile.Relayer = relayer
	n.cfg.Reconcile.RelayerCaller = callerHex
	env := n.env(t)
	require.Equal(t, caller, env.Model.RelayerCaller)

	fee := reconcile.NewFeeSchedule("ibcfee", math.NewInt(15))
	res, err := scenario.IncentivizedTransfer(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 1_000), fee)
	require.NoError(t, err)
	require.True(t, res.Fee.Settled(), res.Fee.String())
	testutil.AssertBalance(t, ctx, n.hub, caller, "ibcfee", math.NewInt(15))
	testutil.AssertBalance(t, ctx, n.hub, relayer, "ibcfee", math.NewInt(15))
}

// TestIncentivizedTransferEscrowMismatch runs the model with the wrong escrow
// policy; locking the fee must be reported as a violation.
func TestIncentivizedTransferEscrowMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetRelayDelay(50 * time.Millisecond)
	n.net.SetEscrowPolicy(simnet.LockSum)

	n.cfg.Reconcile.Relayer = n.hub.Address(simnet.RelayerKey)
	env := n.env(t)

	fee := reconcile.NewFeeSchedule("ibcfee", math.NewInt(10))
	res, err := scenario.IncentivizedTransfer(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 1_000), fee)
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "fee_escrow_lock", violation.Invariant)
	require.Equal(t, reconcile.Violated, res.Escrow.Status)
}

// TestTimeoutPaysTimeoutFee lets a packet time out and reconciles the timeout
// fee and the token refund.
func TestTimeoutPaysTimeoutFee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetRelayDelay(50 * time.Millisecond)

	relayer := n.hub.Address(simnet.RelayerKey)
	n.cfg.Reconcile.Relayer = relayer
	env := n.env(t)
	sender := reconcile.Account{Name: "sender", Chain: n.hub, Address: n.src.Address}
	relayerAcc := reconcile.Account{Name: "relayer", Chain: n.hub, Address: relayer}

	before, err := reconcile.CaptureAll(ctx, sender, relayerAcc)
	require.NoError(t, err)

	res, err := n.hub.Submit(ctx, ibc.TransferTx{
		From:             "signer",
		Receiver:         n.dst.Address,
		SourceChannel:    n.src.Channel,
		Amount:           sdk.NewInt64Coin("basetcro", 1_000),
		TimeoutTimestamp: ibc.Nanoseconds(time.Millisecond),
	})
	require.NoError(t, err)
	packet, err := events.SendPacket(res.Events)
	require.NoError(t, err)

	fee := reconcile.FeeSchedule{Denom: "ibcfee", Recv: math.NewInt(10), Ack: math.NewInt(10), Timeout: math.NewInt(5)}
	_, err = n.hub.Submit(ctx, ibc.PayPacketFeeTx{From: "signer", Packet: packet.ID(), Fee: fee.Fee()})
	require.NoError(t, err)

	report, err := reconcile.Await(ctx, env.Poller, "timeout fee", func(ctx context.Context) (reconcile.Report, error) {
		after, err := reconcile.CaptureAll(ctx, sender, relayerAcc)
		if err != nil {
			return reconcile.Report{}, err
		}
		return env.Model.Incentivized(reconcile.IncentivizedObservation{
			Fee:           fee,
			Outcome:       reconcile.TimedOut,
			SenderBefore:  before[0],
			SenderAfter:   after[0],
			RelayerBefore: before[1],
			RelayerAfter:  after[1],
		}), nil
	})
	require.NoError(t, err)
	require.True(t, report.Settled(), report.String())

	_, err = testutil.WaitForBalanceChange(ctx, env.Poller, n.hub, n.src.Address, "basetcro", math.NewInt(10_000_000-1_000))
	require.NoError(t, err)
	testutil.AssertBalance(t, ctx, n.hub, n.src.Address, "basetcro", math.NewInt(10_000_000))
	testutil.AssertBalance(t, ctx, n.hub, relayer, "ibcfee", math.NewInt(5))
}

// TestRelayerTxFee checks the fee the relayer pays for an acknowledgement
// against the configured gas price.
func TestRelayerTxFee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	env := n.env(t)

	_, err := scenario.MultiTransfer(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 10), 1)
	require.NoError(t, err)

	var acks []ibc.TxResult
	err = env.Poller.Wait(ctx, "acknowledgements", func(ctx context.Context) (bool, error) {
		acks, err = n.hub.QueryTxs(ctx, "message.action='/ibc.core.channel.v1.MsgAcknowledgement'")
		return len(acks) > 0, err
	})
	require.NoError(t, err)

	prices, err := sdk.ParseDecCoins(cronosConfig.GasPrices)
	require.NoError(t, err)
	for _, ack := range acks {
		require.NoError(t, reconcile.CheckTxFee(ack, "stake", prices.AmountOf("stake").TruncateInt()))
	}
}
