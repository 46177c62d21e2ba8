package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// scriptedChannels returns one scripted response per query, repeating the last.
type scriptedChannels struct {
	mu    sync.Mutex
	steps [][]ibc.ChannelOutput
	errs  []error
	calls int
}

func (s *scriptedChannels) QueryChannels(_ context.Context, _ string) ([]ibc.ChannelOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.steps[i], nil
}

func channel(id, state string) ibc.ChannelOutput {
	return ibc.ChannelOutput{ChannelID: id, PortID: "transfer", State: state}
}

func TestWaitForChannelState(t *testing.T) {
	q := &scriptedChannels{
		steps: [][]ibc.ChannelOutput{
			{channel("channel-0", "STATE_OPEN")},
			{channel("channel-0", "STATE_OPEN")},
			{channel("channel-0", "STATE_OPEN"), channel("channel-1", "STATE_INIT")},
			{channel("channel-0", "STATE_OPEN"), channel("channel-1", "STATE_TRYOPEN")},
			{channel("channel-0", "STATE_OPEN"), channel("channel-1", "STATE_OPEN")},
		},
		errs: []error{nil, errors.New("rpc unavailable")},
	}
	ch, err := WaitForChannelState(context.Background(), fastPoller(t, 5*time.Second), q, "connection-0", "channel-1", ibc.StateOpen)
	require.NoError(t, err)
	require.Equal(t, "channel-1", ch.ChannelID)
	require.Equal(t, 5, q.calls)
}

func TestWaitForChannelStateClosed(t *testing.T) {
	q := &scriptedChannels{steps: [][]ibc.ChannelOutput{
		{channel("channel-1", "STATE_INIT")},
		{channel("channel-1", "STATE_CLOSED")},
	}}
	_, err := WaitForChannelState(context.Background(), fastPoller(t, 5*time.Second), q, "connection-0", "channel-1", ibc.StateOpen)
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "channel_handshake", violation.Invariant)
}

func TestWaitForChannelStateStuck(t *testing.T) {
	q := &scriptedChannels{steps: [][]ibc.ChannelOutput{{channel("channel-1", "STATE_TRYOPEN")}}}
	_, err := WaitForChannelState(context.Background(), fastPoller(t, 60*time.Millisecond), q, "connection-0", "channel-1", ibc.StateOpen)
	require.ErrorIs(t, err, ErrTimeout)
}

type staticBalance struct {
	mu     sync.Mutex
	values []sdkmath.Int
	calls  int
}

func (s *staticBalance) GetBalance(context.Context, string, string) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	s.calls++
	return s.values[i], nil
}

func (s *staticBalance) AllBalances(context.Context, string) (sdk.Coins, error) {
	return nil, nil
}

func TestWaitForBalanceChange(t *testing.T) {
	q := &staticBalance{values: []sdkmath.Int{sdkmath.NewInt(10), sdkmath.NewInt(10), sdkmath.NewInt(25)}}
	got, err := WaitForBalanceChange(context.Background(), fastPoller(t, 5*time.Second), q, "cro1a", "basecro", sdkmath.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(25), got)

	AssertBalance(t, context.Background(), q, "cro1a", "basecro", sdkmath.NewInt(25))
}

func TestWaitForChannelStateUnknownIntermediateState(t *testing.T) {
	q := &scriptedChannels{steps: [][]ibc.ChannelOutput{
		{channel("channel-1", "STATE_FLUSHING")},
		{channel("channel-1", "STATE_FLUSHCOMPLETE")},
		{channel("channel-1", "STATE_OPEN")},
	}}
	ch, err := WaitForChannelState(context.Background(), fastPoller(t, 5*time.Second), q, "connection-0", "channel-1", ibc.StateOpen)
	require.NoError(t, err)
	require.Equal(t, "STATE_OPEN", ch.State)
	require.Equal(t, 3, q.calls)
}

func TestWaitForChannelStateShortNames(t *testing.T) {
	q := &scriptedChannels{steps: [][]ibc.ChannelOutput{{channel("channel-1", "open")}}}
	_, err := WaitForChannelState(context.Background(), fastPoller(t, 5*time.Second), q, "connection-0", "channel-1", ibc.StateOpen)
	require.NoError(t, err)
}

func TestWaitForChannelStateTimeoutKeepsLastChannel(t *testing.T) {
	q := &scriptedChannels{steps: [][]ibc.ChannelOutput{{channel("channel-1", "STATE_FLUSHING")}}}
	ch, err := WaitForChannelState(context.Background(), fastPoller(t, 60*time.Millisecond), q, "connection-0", "channel-1", ibc.StateOpen)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, "STATE_FLUSHING", ch.State)
}
