package tests

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/reconcile"
	"github.com/dymensionxyz/ibc-convergence/scenario"
	"github.com/dymensionxyz/ibc-convergence/testutil"
	"github.com/dymensionxyz/ibc-convergence/testutil/simnet"
)

// TestIBCTransfer sends tokens to the remote ledger and back in two halves.
func TestIBCTransfer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	env := n.env(t)

	transferAmount := math.NewInt(1_000_000)
	reports, err := scenario.MultiTransfer(ctx, env, n.src, n.dst, sdk.NewCoin("basetcro", transferAmount), 2)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Equal(t, reconcile.KindPlain, reports[0].Kind)
	require.Equal(t, reconcile.KindRoundTrip, reports[2].Kind)

	testutil.AssertBalance(t, ctx, n.hub, n.src.Address, "basetcro", math.NewInt(10_000_000))
	testutil.AssertBalance(t, ctx, n.remote, n.dst.Address, ibc.MustDeriveDenom(n.dst.Channel, "basetcro"), math.ZeroInt())

	count, err := promtestutil.GatherAndCount(n.metrics.Registry(), "ibc_verify_reconciliations_total")
	require.NoError(t, err)
	require.NotZero(t, count)
}

// TestIBCTransferMultiHop forwards a voucher to a third ledger and checks the
// two hop denom trace registered there.
func TestIBCTransferMultiHop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	env := n.env(t)

	third := n.net.AddLedger(ibc.ChainConfig{Name: "gaia", ChainID: "gaia-1", Bech32Prefix: "cosmos", Denom: "uatom"})
	_, chanRemote, chanThird := n.net.Connect(n.remote, third)
	hop := scenario.Side{Chain: third, Channel: chanThird, Signer: "signer", Address: third.AddAccount("signer")}

	_, err := scenario.MultiTransfer(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 1_000), 1)
	require.NoError(t, err)

	// MultiTransfer brought everything back, send again and keep it there
	voucher := ibc.MustDeriveDenom(n.dst.Channel, "basetcro")
	_, err = n.hub.Submit(ctx, ibc.TransferTx{From: "signer", Receiver: n.dst.Address, SourceChannel: n.src.Channel, Amount: sdk.NewInt64Coin("basetcro", 500)})
	require.NoError(t, err)
	_, err = testutil.WaitForBalanceChange(ctx, env.Poller, n.remote, n.dst.Address, voucher, math.ZeroInt())
	require.NoError(t, err)

	forward := scenario.Side{Chain: n.remote, Channel: chanRemote, Signer: "signer", Address: n.dst.Address}
	before, err := reconcile.CaptureAll(ctx,
		reconcile.Account{Name: "sender", Chain: n.remote, Address: n.dst.Address},
		reconcile.Account{Name: "receiver", Chain: third, Address: hop.Address},
	)
	require.NoError(t, err)
	_, err = n.remote.Submit(ctx, ibc.TransferTx{From: "signer", Receiver: hop.Address, SourceChannel: forward.Channel, Amount: sdk.NewInt64Coin(voucher, 500)})
	require.NoError(t, err)

	trace, err := n.remote.QueryDenomTrace(ctx, voucher)
	require.NoError(t, err)
	transfer := reconcile.Transfer{
		Trace:         trace,
		Amount:        math.NewInt(500),
		SourcePort:    ibc.TransferPortID,
		SourceChannel: forward.Channel,
		DestPort:      ibc.TransferPortID,
		DestChannel:   chanThird,
	}
	report, err := reconcile.Await(ctx, env.Poller, "second hop", func(ctx context.Context) (reconcile.Report, error) {
		after, err := reconcile.CaptureAll(ctx,
			reconcile.Account{Name: "sender", Chain: n.remote, Address: n.dst.Address},
			reconcile.Account{Name: "receiver", Chain: third, Address: hop.Address},
		)
		if err != nil {
			return reconcile.Report{}, err
		}
		return env.Model.Plain(transfer, reconcile.PlainObservation{
			SenderBefore: before[0], SenderAfter: after[0],
			ReceiverBefore: before[1], ReceiverAfter: after[1],
		}), nil
	})
	require.NoError(t, err)
	require.True(t, report.Settled())

	expected, err := ibc.DeriveTrace("transfer/"+chanThird+"/transfer/"+n.dst.Channel, "basetcro")
	require.NoError(t, err)
	require.Equal(t, expected, transfer.ReceivedDenom())
	require.NoError(t, reconcile.VerifyDenomTrace(ctx, third, transfer.ReceiveTrace()))
}

// TestIBCTransferWrongPrefix sends to an address the remote ledger does not
// accept. The receiver is never credited and the sender gets a refund.
func TestIBCTransferWrongPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	env := n.env(t)

	res, err := n.hub.Submit(ctx, ibc.TransferTx{From: "signer", Receiver: n.src.Address, SourceChannel: n.src.Channel, Amount: sdk.NewInt64Coin("basetcro", 1_000)})
	require.NoError(t, err)
	packet, err := events.SendPacket(res.Events)
	require.NoError(t, err)

	recv, err := scenario.WaitForRecv(ctx, env.Poller, n.remote, packet)
	require.NoError(t, err)
	success, ok := events.AttributeValue(recv.Events, events.TypeFungibleTokenPacket, "success")
	require.True(t, ok)
	require.Equal(t, "false", success)

	_, err = testutil.WaitForBalanceChange(ctx, env.Poller, n.hub, n.src.Address, "basetcro", math.NewInt(10_000_000-1_000))
	require.NoError(t, err)
	testutil.AssertBalance(t, ctx, n.hub, n.src.Address, "basetcro", math.NewInt(10_000_000))

	voucher := ibc.MustDeriveDenom(n.dst.Channel, "basetcro")
	err = testutil.AssertNever(ctx, env.Poller.WithTimeout(100*time.Millisecond), "voucher minted", func(ctx context.Context) (bool, error) {
		balance, err := n.remote.GetBalance(ctx, n.src.Address, voucher)
		if err != nil {
			return false, err
		}
		return balance.IsPositive(), nil
	})
	require.NoError(t, err)
}

// TestIBCTransferStalledRelayer checks that a transfer nobody relays times out
// as a pending reconciliation rather than a violation.
func TestIBCTransferStalledRelayer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetFaults(simnet.Faults{Stalled: true})
	env := n.env(t)
	env.Poller = env.Poller.WithTimeout(200 * time.Millisecond)

	reports, err := scenario.MultiTransfer(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 1_000), 2)
	require.NoError(t, testutil.ExpectTimeout(err))
	require.Len(t, reports, 1)
	require.True(t, reports[0].Pending(), reports[0].String())
}
