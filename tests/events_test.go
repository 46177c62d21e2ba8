package tests

import (
	"context"
	"testing"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/scenario"
	"github.com/dymensionxyz/ibc-convergence/testutil/simnet"
)

func TestRecvEventsHaveNoDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	env := n.env(t)

	recv, err := scenario.TransferAndCheckDuplicates(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 100), events.NewDetector())
	require.NoError(t, err)

	flat := events.Parse(recv.Events)
	receiver, err := flat.Get("coin_received", "receiver")
	require.NoError(t, err)
	require.Equal(t, n.dst.Address, receiver)
	_, err = flat.Get("coin_received", "memo")
	require.ErrorIs(t, err, events.ErrKeyNotFound)

	ordered := events.ParseOrdered(recv.Events)
	amounts, err := ordered.Values("coin_received", events.CompanionKey)
	require.NoError(t, err)
	require.Len(t, amounts, 1)
}

func TestRecvDuplicateRecordDetected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetFaults(simnet.Faults{DuplicateRecordOnRecv: true})
	env := n.env(t)

	recv, err := scenario.TransferAndCheckDuplicates(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 100), events.NewDetector())
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "unique_event_record", violation.Invariant)

	evt, ok := events.FindEvent(recv.Events, "coin_received", nil)
	require.True(t, ok)
	pair, found := events.FindDuplicate(evt.Attributes)
	require.True(t, found)
	require.Equal(t, n.dst.Address, pair.Value)
}

func TestRecvDuplicateEventDetected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := startNetwork(t)
	n.net.SetFaults(simnet.Faults{DuplicateEventOnRecv: true})
	env := n.env(t)

	_, err := scenario.TransferAndCheckDuplicates(ctx, env, n.src, n.dst, sdk.NewInt64Coin("basetcro", 100), events.NewDetector())
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "unique_event", violation.Invariant)
	require.Equal(t, events.TypeRecvPacket, violation.Subject)
}
