package simnet

import (
	"fmt"
	"sort"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

const (
	icaHostPort       = "icahost"
	icaControllerPort = "icacontroller-"
	orderUnordered    = "ORDER_UNORDERED"
	orderOrdered      = "ORDER_ORDERED"
)

type channelEnd struct {
	ledger     *Ledger
	id         string
	port       string
	connection string
	version    string
	ordering   string
	state      ibc.ChannelState
	nextSeq    uint64

	counterparty *channelEnd
	// remote is where the counterparty end gets created during a handshake.
	remote     *Ledger
	remotePort string
}

func (c *channelEnd) output() ibc.ChannelOutput {
	out := ibc.ChannelOutput{
		State:          string(c.state),
		Ordering:       c.ordering,
		ConnectionHops: []string{c.connection},
		Version:        c.version,
		PortID:         c.port,
		ChannelID:      c.id,
	}
	if c.counterparty != nil {
		out.Counterparty = ibc.ChannelCounterparty{PortID: c.counterparty.port, ChannelID: c.counterparty.id}
	} else {
		out.Counterparty = ibc.ChannelCounterparty{PortID: c.remotePort}
	}
	return out
}

func (l *Ledger) newChannelLocked(connection, port string, state ibc.ChannelState) *channelEnd {
	ch := &channelEnd{
		ledger:     l,
		id:         fmt.Sprintf("channel-%d", l.nextChan),
		port:       port,
		connection: connection,
		version:    "ics20-1",
		ordering:   orderUnordered,
		state:      state,
		nextSeq:    1,
	}
	l.nextChan++
	l.channels[ch.id] = ch
	return ch
}

// remoteLocked finds the other ledger on a connection.
func (l *Ledger) remoteLocked(connection string) (*Ledger, bool) {
	for _, ch := range l.channels {
		if ch.connection == connection && ch.counterparty != nil {
			return ch.counterparty.ledger, true
		}
	}
	return nil, false
}

func (l *Ledger) registerICALocked(signer string, tx ibc.RegisterICATx) ([]blockdb.Event, *ibc.LedgerRejection) {
	remote, ok := l.remoteLocked(tx.ConnectionID)
	if !ok {
		return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "ibc", RawLog: fmt.Sprintf("connection %s not found", tx.ConnectionID)}
	}
	port := icaControllerPort + signer
	for _, ch := range l.channels {
		if ch.port == port && ch.state != ibc.StateClosed {
			return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "ibc", RawLog: fmt.Sprintf("existing active channel %s for portID %s", ch.id, port)}
		}
	}
	ch := l.newChannelLocked(tx.ConnectionID, port, ibc.StateInit)
	ch.ordering = orderOrdered
	ch.version = tx.Version
	ch.remote, ch.remotePort = remote, icaHostPort
	return []blockdb.Event{
		event("message", "action", "/ibc.applications.interchain_accounts.controller.v1.MsgRegisterInterchainAccount"),
		event("channel_open_init",
			"port_id", ch.port,
			"channel_id", ch.id,
			"counterparty_port_id", icaHostPort,
			"counterparty_channel_id", "",
			"connection_id", tx.ConnectionID,
			"version", ch.version,
		),
		event("message", "module", "ibc_channel"),
	}, nil
}

func (l *Ledger) sortedChannelsLocked() []*channelEnd {
	out := make([]*channelEnd, 0, len(l.channels))
	for _, ch := range l.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// advanceHandshakesLocked moves every unfinished handshake one step.
func (l *Ledger) advanceHandshakesLocked() int {
	steps := 0
	for _, ch := range l.sortedChannelsLocked() {
		switch {
		case ch.state == ibc.StateInit && ch.counterparty == nil:
			if l.net.faults.CloseHandshakes {
				ch.state = ibc.StateClosed
				l.relayerTxLocked("/ibc.core.channel.v1.MsgChannelCloseInit", event("channel_close_init", "port_id", ch.port, "channel_id", ch.id))
				steps++
				continue
			}
			cp := ch.remote.newChannelLocked(ch.connection, ch.remotePort, ibc.StateTryOpen)
			cp.ordering, cp.version = ch.ordering, ch.version
			cp.counterparty, ch.counterparty = ch, cp
			ch.remote.relayerTxLocked("/ibc.core.channel.v1.MsgChannelOpenTry",
				event("channel_open_try", "port_id", cp.port, "channel_id", cp.id, "counterparty_port_id", ch.port, "counterparty_channel_id", ch.id))
			steps++
		case ch.state == ibc.StateInit && ch.counterparty.state == ibc.StateTryOpen:
			ch.state = ibc.StateOpen
			l.relayerTxLocked("/ibc.core.channel.v1.MsgChannelOpenAck",
				event("channel_open_ack", "port_id", ch.port, "channel_id", ch.id, "counterparty_port_id", ch.counterparty.port, "counterparty_channel_id", ch.counterparty.id))
			steps++
		case ch.state == ibc.StateTryOpen && ch.counterparty.state == ibc.StateOpen:
			ch.state = ibc.StateOpen
			l.relayerTxLocked("/ibc.core.channel.v1.MsgChannelOpenConfirm",
				event("channel_open_confirm", "port_id", ch.port, "channel_id", ch.id))
			steps++
		}
	}
	return steps
}
