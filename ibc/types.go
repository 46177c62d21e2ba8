package ibc

import (
	"fmt"
	"strconv"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"
	channeltypes "github.com/cosmos/ibc-go/v7/modules/core/04-channel/types"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
)

const (
	// TransferPortID is the port bound by the ics20 transfer application.
	TransferPortID = "transfer"

	channelPrefix = "channel-"
)

// ChainConfig describes how to reach and talk to one ledger.
type ChainConfig struct {
	// Name is a human readable name used in logs.
	Name string
	// ChainID is the ledger's chain id.
	ChainID string
	// Bin is the ledger's cli binary, used to sign and broadcast txs.
	Bin string
	// Home is the cli home directory holding the keyring.
	Home string
	// Node is the rpc endpoint passed to the cli with --node.
	Node string
	// Bech32Prefix of account addresses.
	Bech32Prefix string
	// Denom is the native fee denom.
	Denom string
	// GasPrices used when none are given on a tx.
	GasPrices string
	// GasAdjustment used when none is given on a tx.
	GasAdjustment float64
	// KeyringBackend passed to the cli.
	KeyringBackend string
}

// Nanoseconds is a timestamp in nanoseconds since the unix epoch.
type Nanoseconds uint64

// PacketID uniquely identifies one packet lifecycle on its sending side.
type PacketID struct {
	PortID    string
	ChannelID string
	Sequence  uint64
}

func (p PacketID) String() string {
	return fmt.Sprintf("%s/%s/%d", p.PortID, p.ChannelID, p.Sequence)
}

// Packet is a packet as reported by a send_packet event.
type Packet struct {
	Sequence         uint64
	SourcePort       string
	SourceChannel    string
	DestPort         string
	DestChannel      string
	Data             []byte
	TimeoutHeight    string
	TimeoutTimestamp Nanoseconds
}

// ID returns the reference of the packet on the sending ledger.
func (p Packet) ID() PacketID {
	return PacketID{PortID: p.SourcePort, ChannelID: p.SourceChannel, Sequence: p.Sequence}
}

// Validate returns an error if the packet is missing its identifying fields.
func (p Packet) Validate() error {
	if p.Sequence == 0 {
		return fmt.Errorf("packet sequence cannot be 0")
	}
	if p.SourcePort == "" || p.SourceChannel == "" {
		return fmt.Errorf("packet source port/channel cannot be empty")
	}
	if p.DestPort == "" || p.DestChannel == "" {
		return fmt.Errorf("packet destination port/channel cannot be empty")
	}
	return nil
}

// ChannelState is the handshake state of a channel end, using the ledger's names.
type ChannelState string

var (
	StateInit    = ChannelState(channeltypes.INIT.String())
	StateTryOpen = ChannelState(channeltypes.TRYOPEN.String())
	StateOpen    = ChannelState(channeltypes.OPEN.String())
	StateClosed  = ChannelState(channeltypes.CLOSED.String())
)

// ParseChannelState accepts both the ledger names (STATE_OPEN) and the short ones (OPEN).
func ParseChannelState(s string) (ChannelState, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "STATE_") {
		name = "STATE_" + name
	}
	if _, ok := channeltypes.State_value[name]; !ok || name == channeltypes.UNINITIALIZED.String() {
		return "", fmt.Errorf("unknown channel state %q", s)
	}
	return ChannelState(name), nil
}

// ChannelCounterparty is the remote end of a channel.
type ChannelCounterparty struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

// ChannelOutput is one channel end as returned by a channels query.
type ChannelOutput struct {
	State          string              `json:"state"`
	Ordering       string              `json:"ordering"`
	Counterparty   ChannelCounterparty `json:"counterparty"`
	ConnectionHops []string            `json:"connection_hops"`
	Version        string              `json:"version"`
	PortID         string              `json:"port_id"`
	ChannelID      string              `json:"channel_id"`
}

// NextChannelID returns the id the next channel created on the ledger will get,
// given the channels currently visible.
func NextChannelID(channels []ChannelOutput) (string, error) {
	next := uint64(0)
	for _, ch := range channels {
		n, err := strconv.ParseUint(strings.TrimPrefix(ch.ChannelID, channelPrefix), 10, 64)
		if err != nil || !strings.HasPrefix(ch.ChannelID, channelPrefix) {
			return "", fmt.Errorf("unexpected channel id %q", ch.ChannelID)
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return channelPrefix + strconv.FormatUint(next, 10), nil
}

// Fee is the incentive attached to a packet, paid in up to three parts.
type Fee struct {
	RecvFee    sdk.Coins
	AckFee     sdk.Coins
	TimeoutFee sdk.Coins
}

// PacketFee is one escrowed fee entry of an incentivized packet.
type PacketFee struct {
	Fee           Fee
	RefundAddress string
	Relayers      []string
}

// TxResult is what a ledger reports for a submitted or queried tx.
type TxResult struct {
	Code      uint32
	Codespace string
	RawLog    string
	TxHash    string
	Height    int64
	GasWanted int64
	GasUsed   int64
	Events    []blockdb.Event
}

// OK reports whether the ledger accepted the tx.
func (r TxResult) OK() bool {
	return r.Code == 0
}
