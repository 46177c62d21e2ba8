package testutil

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// WaitForChannelState waits until channelID on connectionID reports target.
// A channel that is not visible yet or sits in any other state, including ones
// this client has no name for, counts as not ready; one that closes while
// another state is awaited is an invariant violation.
func WaitForChannelState(
	ctx context.Context,
	p Poller,
	chain ibc.ChannelQuerier,
	connectionID, channelID string,
	target ibc.ChannelState,
) (ibc.ChannelOutput, error) {
	description := fmt.Sprintf("channel %s on %s to reach %s", channelID, connectionID, target)
	want := stateName(string(target))
	return Poll(ctx, p, description, func(ctx context.Context) (Result[ibc.ChannelOutput], error) {
		channels, err := chain.QueryChannels(ctx, connectionID)
		if err != nil {
			return NotYet[ibc.ChannelOutput](), ibc.Transient("query channels", err)
		}
		ch, ok := findChannel(channels, channelID)
		if !ok {
			return NotYet[ibc.ChannelOutput](), nil
		}
		state := stateName(ch.State)
		p.logger().Debug("channel state", zap.String("channel", channelID), zap.String("state", state))
		switch {
		case state == want:
			return Ready(ch), nil
		case state == string(ibc.StateClosed):
			return Pending(ch), &ibc.InvariantViolation{
				Invariant: "channel_handshake",
				Subject:   channelID,
				Expected:  want,
				Observed:  state,
			}
		default:
			return Pending(ch), nil
		}
	})
}

// stateName maps "open" and "STATE_OPEN" alike to the ledger's name.
func stateName(s string) string {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "STATE_") {
		name = "STATE_" + name
	}
	return name
}

func findChannel(channels []ibc.ChannelOutput, channelID string) (ibc.ChannelOutput, bool) {
	for _, ch := range channels {
		if ch.ChannelID == channelID {
			return ch, true
		}
	}
	return ibc.ChannelOutput{}, false
}
