package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/testutil"
)

type traces map[string]ibc.DenomTrace

func (tr traces) QueryDenomTrace(_ context.Context, hash string) (ibc.DenomTrace, error) {
	t, ok := tr[hash]
	if !ok {
		return ibc.DenomTrace{}, fmt.Errorf("denomination trace %s not found", hash)
	}
	return t, nil
}

func TestVerifyDenomTrace(t *testing.T) {
	want, err := ibc.ParseDenomTrace("transfer/channel-0/basetcro")
	require.NoError(t, err)
	other, err := ibc.ParseDenomTrace("transfer/channel-1/basetcro")
	require.NoError(t, err)

	require.NoError(t, VerifyDenomTrace(context.Background(), traces{want.Hash(): want}, want))

	err = VerifyDenomTrace(context.Background(), traces{want.Hash(): other}, want)
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "transfer/channel-0/basetcro", violation.Expected)

	err = VerifyDenomTrace(context.Background(), traces{}, want)
	require.Error(t, err)
	require.False(t, errors.As(err, &violation))
}

func TestCheckTxFee(t *testing.T) {
	res := ibc.TxResult{
		TxHash:    "ABC",
		GasWanted: 200_000,
		Events: []blockdb.Event{
			{Type: "tx", Attributes: []blockdb.EventAttribute{{Key: "fee", Value: "200000000000basetcro"}}},
		},
	}
	require.NoError(t, CheckTxFee(res, "basetcro", sdkmath.NewInt(1_000_000)))

	var violation *ibc.InvariantViolation
	require.ErrorAs(t, CheckTxFee(res, "basetcro", sdkmath.NewInt(5)), &violation)

	res.Events = nil
	require.ErrorIs(t, CheckTxFee(res, "basetcro", sdkmath.NewInt(1)), events.ErrKeyNotFound)
}

type balances struct {
	calls  atomic.Int32
	series []sdk.Coins
}

func (b *balances) GetBalance(ctx context.Context, addr, denom string) (sdkmath.Int, error) {
	coins, err := b.AllBalances(ctx, addr)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return coins.AmountOf(denom), nil
}

func (b *balances) AllBalances(context.Context, string) (sdk.Coins, error) {
	i := int(b.calls.Add(1)) - 1
	if i >= len(b.series) {
		i = len(b.series) - 1
	}
	return b.series[i], nil
}

func TestCaptureAll(t *testing.T) {
	a := &balances{series: []sdk.Coins{sdk.NewCoins(coin("basetcro", 1))}}
	b := &balances{series: []sdk.Coins{sdk.NewCoins(coin("basecro", 2))}}
	snaps, err := CaptureAll(context.Background(),
		Account{Name: "sender", Chain: a, Address: "a"},
		Account{Name: "receiver", Chain: b, Address: "b"},
	)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "sender", snaps[0].Name)
	require.Equal(t, sdkmath.NewInt(2), snaps[1].AmountOf("basecro"))
	require.True(t, snaps[1].AmountOf("basetcro").IsZero())
}

func TestAwait(t *testing.T) {
	p := testutil.Poller{Timeout: 5 * time.Second, Interval: 5 * time.Millisecond, Logger: zaptest.NewLogger(t)}
	tr := NewTransfer("basetcro", sdkmath.NewInt(1000), "channel-0", "channel-0")
	sender := &balances{series: []sdk.Coins{sdk.NewCoins(coin("basetcro", 9000))}}
	receiver := &balances{series: []sdk.Coins{
		nil,
		nil,
		sdk.NewCoins(coin(ibcDenomBasetcro, 1000)),
	}}
	senderBefore := snap("sender", coin("basetcro", 10_000))
	receiverBefore := snap("receiver")

	observe := func(ctx context.Context) (Report, error) {
		snaps, err := CaptureAll(ctx,
			Account{Name: "sender", Chain: sender, Address: "a"},
			Account{Name: "receiver", Chain: receiver, Address: "b"},
		)
		if err != nil {
			return Report{}, err
		}
		return Model{}.Plain(tr, PlainObservation{
			SenderBefore: senderBefore, SenderAfter: snaps[0],
			ReceiverBefore: receiverBefore, ReceiverAfter: snaps[1],
		}), nil
	}
	r, err := Await(context.Background(), p, "transfer settles", observe)
	require.NoError(t, err)
	require.True(t, r.Settled())
	require.EqualValues(t, 3, receiver.calls.Load())

	// a wrong credit aborts immediately
	receiver = &balances{series: []sdk.Coins{sdk.NewCoins(coin(ibcDenomBasetcro, 999))}}
	r, err = Await(context.Background(), p, "transfer settles", observe)
	require.Error(t, err)
	require.Equal(t, Violated, r.Status)
	require.EqualValues(t, 1, receiver.calls.Load())

	// nothing arrives
	receiver = &balances{series: []sdk.Coins{nil}}
	r, err = Await(context.Background(), p.WithTimeout(30*time.Millisecond), "transfer settles", observe)
	require.ErrorIs(t, err, testutil.ErrTimeout)
	require.Equal(t, Pending, r.Status)
}

func TestAwaitRoundTrip(t *testing.T) {
	p := testutil.Poller{Timeout: 5 * time.Second, Interval: 5 * time.Millisecond, Logger: zaptest.NewLogger(t)}
	rt, err := NewRoundTrip("basetcro", sdkmath.NewInt(10_000), sdkmath.NewInt(1000), 2)
	require.NoError(t, err)

	sender := &balances{series: []sdk.Coins{
		sdk.NewCoins(coin("basetcro", 9000)),
		sdk.NewCoins(coin("basetcro", 9500)),
	}}
	balance := func(ctx context.Context) (sdkmath.Int, error) {
		return sender.GetBalance(ctx, "a", "basetcro")
	}

	next, r, err := Model{}.AwaitRoundTrip(context.Background(), p, rt, balance)
	require.NoError(t, err)
	require.True(t, r.Settled())
	require.EqualValues(t, 1, next.Settled())
	require.EqualValues(t, 0, rt.Settled())

	// the second leg never lands
	_, r, err = Model{}.AwaitRoundTrip(context.Background(), p.WithTimeout(50*time.Millisecond), next, balance)
	require.ErrorIs(t, err, testutil.ErrTimeout)
	require.Equal(t, Pending, r.Status)
}
