package events

import (
	"fmt"
	"strconv"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

const (
	TypeSendPacket          = "send_packet"
	TypeRecvPacket          = "recv_packet"
	TypeAcknowledgePacket   = "acknowledge_packet"
	TypeTimeoutPacket       = "timeout_packet"
	TypeChannelOpenInit     = "channel_open_init"
	TypeFungibleTokenPacket = "fungible_token_packet"
	TypeTx                  = "tx"
	TypeMessage             = "message"
)

// SendPacket builds the packet reference from the send_packet event of a tx.
func SendPacket(evts []blockdb.Event) (ibc.Packet, error) {
	evt, ok := FindEvent(evts, TypeSendPacket, func(attrs map[string]string) bool {
		_, ok := attrs["packet_sequence"]
		return ok
	})
	if !ok {
		return ibc.Packet{}, fmt.Errorf("event %q with a packet_sequence: %w", TypeSendPacket, ErrKeyNotFound)
	}

	var p ibc.Packet
	for _, attr := range evt.Attributes {
		switch attr.Key {
		case "packet_sequence":
			seq, err := strconv.ParseUint(attr.Value, 10, 64)
			if err != nil {
				return ibc.Packet{}, fmt.Errorf("invalid packet sequence from events %s: %w", attr.Value, err)
			}
			p.Sequence = seq
		case "packet_src_port":
			p.SourcePort = attr.Value
		case "packet_src_channel":
			p.SourceChannel = attr.Value
		case "packet_dst_port":
			p.DestPort = attr.Value
		case "packet_dst_channel":
			p.DestChannel = attr.Value
		case "packet_timeout_height":
			p.TimeoutHeight = attr.Value
		case "packet_timeout_timestamp":
			ts, err := strconv.ParseUint(attr.Value, 10, 64)
			if err != nil {
				return ibc.Packet{}, fmt.Errorf("invalid packet timestamp timeout %s: %w", attr.Value, err)
			}
			p.TimeoutTimestamp = ibc.Nanoseconds(ts)
		case "packet_data":
			p.Data = []byte(attr.Value)
		}
	}
	if err := p.Validate(); err != nil {
		return ibc.Packet{}, err
	}
	return p, nil
}

// ChannelOpenInit returns the port and channel created by a channel open init tx.
func ChannelOpenInit(evts []blockdb.Event) (portID, channelID string, err error) {
	evt, ok := FindEvent(evts, TypeChannelOpenInit, nil)
	if !ok {
		return "", "", fmt.Errorf("event %q: %w", TypeChannelOpenInit, ErrKeyNotFound)
	}
	portID, ok = evt.Get("port_id")
	if !ok {
		return "", "", fmt.Errorf("attribute port_id of %q: %w", TypeChannelOpenInit, ErrKeyNotFound)
	}
	channelID, ok = evt.Get("channel_id")
	if !ok {
		return "", "", fmt.Errorf("attribute channel_id of %q: %w", TypeChannelOpenInit, ErrKeyNotFound)
	}
	return portID, channelID, nil
}

// TokenPacket is the fungible_token_packet event emitted on receive and ack.
type TokenPacket struct {
	Sender   string
	Receiver string
	Denom    string
	Amount   string
	Memo     string
	Success  bool
	Error    string
}

// MapToTokenPacket reads a fungible_token_packet event.
func MapToTokenPacket(event blockdb.Event) (TokenPacket, error) {
	var tp TokenPacket
	for _, attr := range event.Attributes {
		switch attr.Key {
		case "sender":
			tp.Sender = attr.Value
		case "receiver":
			tp.Receiver = attr.Value
		case "denom":
			tp.Denom = attr.Value
		case "amount":
			tp.Amount = attr.Value
		case "memo":
			tp.Memo = attr.Value
		case "success":
			ok, err := strconv.ParseBool(attr.Value)
			if err != nil {
				return TokenPacket{}, err
			}
			tp.Success = ok
		case "error":
			tp.Error = attr.Value
		}
	}
	return tp, nil
}
