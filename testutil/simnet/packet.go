package simnet

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	transfertypes "github.com/cosmos/ibc-go/v7/modules/apps/transfer/types"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

const (
	transferModule = "transfer"
	feeModule      = "feeibc"
)

type inflight struct {
	packet ibc.Packet
	data   transfertypes.FungibleTokenPacketData
	coin   sdk.Coin
	sender string
	src    *channelEnd
	sentAt time.Time

	timeoutHeight uint64
	deadline      time.Time

	received bool
	ackErr   string
}

type escrowedFee struct {
	ibc.PacketFee
	locked sdk.Coins
}

func escrowAddress(l *Ledger, channelID string) string {
	return l.ModuleAddress(transferModule + "/" + channelID)
}

func (l *Ledger) sendTransferLocked(signer string, tx ibc.TransferTx) ([]blockdb.Event, *ibc.LedgerRejection) {
	port := tx.SourcePort
	if port == "" {
		port = ibc.TransferPortID
	}
	ch, ok := l.channels[tx.SourceChannel]
	if !ok || ch.port != port || ch.counterparty == nil {
		return nil, &ibc.LedgerRejection{Code: codeChannelNotOpen, Codespace: "channel", RawLog: fmt.Sprintf("port-id: %s, channel-id: %s: channel not found", port, tx.SourceChannel)}
	}
	if ch.state != ibc.StateOpen {
		return nil, &ibc.LedgerRejection{Code: codeChannelNotOpen, Codespace: "channel", RawLog: fmt.Sprintf("channel state is not OPEN (got %s)", ch.state)}
	}
	if !tx.Amount.IsValid() || !tx.Amount.IsPositive() {
		return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "sdk", RawLog: fmt.Sprintf("invalid token %s", tx.Amount)}
	}

	trace := ibc.NewDenomTrace(tx.Amount.Denom)
	if hash, ok := ibc.HashFromDenom(tx.Amount.Denom); ok {
		if trace, ok = l.traces[hash]; !ok {
			return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "transfer", RawLog: fmt.Sprintf("denomination trace not found: %s", hash)}
		}
	}
	if !l.debit(signer, sdk.NewCoins(tx.Amount)) {
		return nil, insufficientFunds(tx.Amount)
	}
	// A voucher going back the way it came is burned, anything else is escrowed.
	returning := len(trace.Path) > 0 && trace.Path[0] == (ibc.Hop{PortID: port, ChannelID: ch.id})
	if !returning {
		l.credit(escrowAddress(l, ch.id), sdk.NewCoins(tx.Amount))
	}

	data := transfertypes.NewFungibleTokenPacketData(trace.FullPath(), tx.Amount.Amount.String(), signer, tx.Receiver, tx.Memo)
	in := &inflight{
		packet: ibc.Packet{
			Sequence:      ch.nextSeq,
			SourcePort:    port,
			SourceChannel: ch.id,
			DestPort:      ch.counterparty.port,
			DestChannel:   ch.counterparty.id,
			Data:          data.GetBytes(),
			TimeoutHeight: "0-0",
		},
		data:   data,
		coin:   tx.Amount,
		sender: signer,
		src:    ch,
		sentAt: l.net.now(),
	}
	ch.nextSeq++
	switch {
	case tx.TimeoutTimestamp > 0:
		in.deadline = in.sentAt.Add(time.Duration(tx.TimeoutTimestamp))
		in.packet.TimeoutTimestamp = ibc.Nanoseconds(in.deadline.UnixNano())
	case tx.TimeoutHeight > 0:
		in.timeoutHeight = ch.counterparty.ledger.height + tx.TimeoutHeight
		in.packet.TimeoutHeight = fmt.Sprintf("0-%d", in.timeoutHeight)
	}
	l.packets[in.packet.ID()] = in

	return []blockdb.Event{
		event("message", "action", "/ibc.applications.transfer.v1.MsgTransfer"),
		event("coin_spent", "spender", signer, "amount", tx.Amount.String()),
		event("send_packet", packetAttrs(in.packet, ch.connection)...),
		event("ibc_transfer", "sender", signer, "receiver", tx.Receiver, "amount", tx.Amount.Amount.String(), "denom", trace.FullPath(), "memo", tx.Memo),
		event("message", "module", transferModule),
	}, nil
}

func packetAttrs(p ibc.Packet, connection string) []string {
	return []string{
		"packet_data", string(p.Data),
		"packet_timeout_height", p.TimeoutHeight,
		"packet_timeout_timestamp", strconv.FormatUint(uint64(p.TimeoutTimestamp), 10),
		"packet_sequence", strconv.FormatUint(p.Sequence, 10),
		"packet_src_port", p.SourcePort,
		"packet_src_channel", p.SourceChannel,
		"packet_dst_port", p.DestPort,
		"packet_dst_channel", p.DestChannel,
		"packet_channel_ordering", orderUnordered,
		"packet_connection", connection,
	}
}

func (l *Ledger) payPacketFeeLocked(signer string, tx ibc.PayPacketFeeTx) ([]blockdb.Event, *ibc.LedgerRejection) {
	if _, ok := l.packets[tx.Packet]; !ok {
		return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "feeibc", RawLog: fmt.Sprintf("packet %s not found or already relayed", tx.Packet)}
	}
	fee := tx.Fee
	for _, coins := range []sdk.Coins{fee.RecvFee, fee.AckFee, fee.TimeoutFee} {
		if !coins.IsValid() {
			return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "feeibc", RawLog: fmt.Sprintf("invalid fee %s", coins)}
		}
	}
	locked := fee.RecvFee.Add(fee.AckFee...)
	if l.net.escrow == LockSum {
		locked = locked.Add(fee.TimeoutFee...)
	} else {
		locked = locked.Max(fee.TimeoutFee)
	}
	if locked.IsZero() {
		return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "feeibc", RawLog: "fee cannot be empty"}
	}
	if !l.debit(signer, locked) {
		return nil, insufficientFunds(locked)
	}
	l.credit(l.ModuleAddress(feeModule), locked)
	l.fees[tx.Packet] = append(l.fees[tx.Packet], escrowedFee{
		PacketFee: ibc.PacketFee{Fee: fee, RefundAddress: signer},
		locked:    locked,
	})

	return []blockdb.Event{
		event("message", "action", "/ibc.applications.fee.v1.MsgPayPacketFee"),
		event("coin_spent", "spender", signer, "amount", locked.String()),
		event("incentivized_ibc_packet",
			"port_id", tx.Packet.PortID,
			"channel_id", tx.Packet.ChannelID,
			"packet_sequence", strconv.FormatUint(tx.Packet.Sequence, 10),
			"recv_fee", fee.RecvFee.String(),
			"ack_fee", fee.AckFee.String(),
			"timeout_fee", fee.TimeoutFee.String(),
		),
	}, nil
}

func (l *Ledger) registerPayeeLocked(signer string, tx ibc.RegisterPayeeTx) ([]blockdb.Event, *ibc.LedgerRejection) {
	ch, ok := l.channels[tx.ChannelID]
	if !ok || (tx.PortID != "" && ch.port != tx.PortID) {
		return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "feeibc", RawLog: fmt.Sprintf("channel %s not found", tx.ChannelID)}
	}
	relayer := l.resolve(tx.Relayer)
	if relayer != signer {
		return nil, &ibc.LedgerRejection{Code: codeInvalidRequest, Codespace: "feeibc", RawLog: "relayer must sign the payee registration"}
	}
	typ, action := "register_payee", "/ibc.applications.fee.v1.MsgRegisterPayee"
	if tx.Counterparty {
		typ, action = "register_counterparty_payee", "/ibc.applications.fee.v1.MsgRegisterCounterpartyPayee"
	}
	l.payees[payeeKey(tx.Counterparty, ch.id, relayer)] = tx.Payee
	return []blockdb.Event{
		event("message", "action", action),
		event(typ, "relayer", relayer, "payee", tx.Payee, "channel_id", ch.id),
	}, nil
}

func payeeKey(counterparty bool, channelID, relayer string) string {
	if counterparty {
		return "counterparty/" + channelID + "/" + relayer
	}
	return channelID + "/" + relayer
}

// relayPacketsLocked walks every packet sent from l one step: receive on the
// counterparty, then acknowledge or time out on l.
func (l *Ledger) relayPacketsLocked() int {
	ids := make([]ibc.PacketID, 0, len(l.packets))
	for id := range l.packets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].ChannelID != ids[j].ChannelID {
			return ids[i].ChannelID < ids[j].ChannelID
		}
		return ids[i].Sequence < ids[j].Sequence
	})

	now := l.net.now()
	steps := 0
	for _, id := range ids {
		in := l.packets[id]
		if now.Sub(in.sentAt) < l.net.relayDelay {
			continue
		}
		dest := in.src.counterparty.ledger
		switch {
		case in.received:
			l.acknowledgeLocked(in)
		case in.timeoutHeight > 0 && dest.height >= in.timeoutHeight,
			!in.deadline.IsZero() && !now.Before(in.deadline):
			l.timeoutLocked(in)
		default:
			dest.receiveLocked(in)
		}
		steps++
	}
	return steps
}

// receiveLocked delivers in on l, the destination ledger.
func (l *Ledger) receiveLocked(in *inflight) {
	p := in.packet
	var data transfertypes.FungibleTokenPacketData
	err := transfertypes.ModuleCdc.UnmarshalJSON(p.Data, &data)
	if err == nil {
		err = data.ValidateBasic()
	}
	var (
		coin  sdk.Coin
		trace ibc.DenomTrace
	)
	if err == nil {
		trace, err = ibc.ParseDenomTrace(data.Denom)
	}
	if err == nil {
		err = l.checkReceiver(data.Receiver)
	}
	if err == nil {
		amount, _ := sdkmath.NewIntFromString(data.Amount)
		sent := trace
		trace = trace.Receive(p.SourcePort, p.SourceChannel, p.DestPort, p.DestChannel)
		coin = sdk.NewCoin(trace.IBCDenom(), amount)
		if len(trace.Path) < len(sent.Path) {
			if !l.debit(escrowAddress(l, p.DestChannel), sdk.NewCoins(coin)) {
				err = fmt.Errorf("unable to unescrow tokens: insufficient funds %s", coin)
			}
		} else {
			l.traces[trace.Hash()] = trace
		}
	}

	evts := []blockdb.Event{event("recv_packet", packetAttrs(p, in.src.counterparty.connection)...)}
	if l.net.faults.DuplicateEventOnRecv {
		evts = append(evts, evts[0])
	}
	success := err == nil
	if success {
		l.credit(data.Receiver, sdk.NewCoins(coin))
		received := event("coin_received", "receiver", data.Receiver, "amount", coin.String())
		if l.net.faults.DuplicateRecordOnRecv {
			received.Attributes = append(received.Attributes, received.Attributes...)
		}
		evts = append(evts,
			event("denomination_trace", "trace_hash", trace.Hash(), "denom", coin.Denom),
			received,
			event("transfer", "recipient", data.Receiver, "sender", l.ModuleAddress(transferModule), "amount", coin.String()),
		)
	} else {
		in.ackErr = err.Error()
	}
	tokenPacket := []string{
		"module", transferModule,
		"sender", data.Sender,
		"receiver", data.Receiver,
		"denom", data.Denom,
		"amount", data.Amount,
		"memo", data.Memo,
		"success", strconv.FormatBool(success),
	}
	if !success {
		tokenPacket = append(tokenPacket, "error", in.ackErr)
	}
	evts = append(evts,
		event("fungible_token_packet", tokenPacket...),
		event("write_acknowledgement", append(packetAttrs(p, in.src.counterparty.connection), "packet_ack", ackJSON(in.ackErr))...),
	)
	in.received = true
	l.relayerTxLocked("/ibc.core.channel.v1.MsgRecvPacket", evts...)
	l.net.log.Debug("packet received",
		zap.String("chain_id", l.cfg.ChainID),
		zap.Stringer("packet", p.ID()),
		zap.Bool("success", success),
	)
}

func (l *Ledger) checkReceiver(addr string) error {
	hrp, _, err := bech32.DecodeAndConvert(addr)
	if err != nil {
		return fmt.Errorf("failed to decode receiver address %s: %w", addr, err)
	}
	if hrp != l.cfg.Bech32Prefix {
		return fmt.Errorf("invalid Bech32 prefix; expected %s, got %s", l.cfg.Bech32Prefix, hrp)
	}
	return nil
}

func ackJSON(ackErr string) string {
	if ackErr != "" {
		return `{"error":"ABCI code: 1: error handling packet: see events for details"}`
	}
	return `{"result":"AQ=="}`
}

// acknowledgeLocked settles a received packet on l, the sending ledger.
func (l *Ledger) acknowledgeLocked(in *inflight) {
	evts := []blockdb.Event{event("acknowledge_packet", packetAttrs(in.packet, in.src.connection)...)}
	if in.ackErr != "" {
		evts = append(evts, l.refundTokensLocked(in)...)
	}
	evts = append(evts, event("fungible_token_packet",
		"module", transferModule,
		"sender", in.sender,
		"receiver", in.data.Receiver,
		"denom", in.data.Denom,
		"amount", in.data.Amount,
		"memo", in.data.Memo,
		"acknowledgement", ackJSON(in.ackErr),
		"success", strconv.FormatBool(in.ackErr == ""),
	))
	evts = append(evts, l.distributeFeesLocked(in, true)...)
	delete(l.packets, in.packet.ID())
	l.relayerTxLocked("/ibc.core.channel.v1.MsgAcknowledgement", evts...)
}

func (l *Ledger) timeoutLocked(in *inflight) {
	evts := []blockdb.Event{event("timeout_packet", packetAttrs(in.packet, in.src.connection)...)}
	evts = append(evts, l.refundTokensLocked(in)...)
	evts = append(evts, event("timeout", "refund_receiver", in.sender, "refund_denom", in.data.Denom, "refund_amount", in.data.Amount))
	evts = append(evts, l.distributeFeesLocked(in, false)...)
	delete(l.packets, in.packet.ID())
	l.relayerTxLocked("/ibc.core.channel.v1.MsgTimeout", evts...)
}

func (l *Ledger) refundTokensLocked(in *inflight) []blockdb.Event {
	coins := sdk.NewCoins(in.coin)
	escrow := escrowAddress(l, in.packet.SourceChannel)
	if !l.debit(escrow, coins) {
		// burned voucher: mint it back
		l.net.log.Debug("re-minting refunded voucher")
	}
	l.credit(in.sender, coins)
	return []blockdb.Event{event("coin_received", "receiver", in.sender, "amount", coins.String())}
}

// distributeFeesLocked pays out every fee escrowed for in and refunds the rest.
func (l *Ledger) distributeFeesLocked(in *inflight, acknowledged bool) []blockdb.Event {
	id := in.packet.ID()
	fees := l.fees[id]
	if len(fees) == 0 {
		return nil
	}
	delete(l.fees, id)

	relayer := l.keys[RelayerKey]
	dest := in.src.counterparty.ledger
	forward := relayer
	if payee, ok := dest.payees[payeeKey(true, in.src.counterparty.id, dest.keys[RelayerKey])]; ok {
		forward = payee
	}
	reverse := relayer
	if payee, ok := l.payees[payeeKey(false, in.src.id, relayer)]; ok {
		reverse = payee
	}

	payouts := make(map[string]sdk.Coins)
	module := l.ModuleAddress(feeModule)
	for _, f := range fees {
		paid := sdk.NewCoins()
		if acknowledged {
			payouts[forward] = payouts[forward].Add(f.Fee.RecvFee...)
			payouts[reverse] = payouts[reverse].Add(f.Fee.AckFee...)
			paid = paid.Add(f.Fee.RecvFee...).Add(f.Fee.AckFee...)
		} else {
			payouts[reverse] = payouts[reverse].Add(f.Fee.TimeoutFee...)
			paid = paid.Add(f.Fee.TimeoutFee...)
		}
		if l.net.faults.SkipRefund {
			continue
		}
		if refund, negative := f.locked.SafeSub(paid...); !negative && !refund.IsZero() {
			payouts[f.RefundAddress] = payouts[f.RefundAddress].Add(refund...)
		}
	}

	addrs := make([]string, 0, len(payouts))
	for addr := range payouts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	var evts []blockdb.Event
	for _, addr := range addrs {
		coins := payouts[addr]
		if coins.IsZero() || !l.debit(module, coins) {
			continue
		}
		l.credit(addr, coins)
		evts = append(evts,
			event("coin_received", "receiver", addr, "amount", coins.String()),
			event("distribute_fee", "receiver", addr, "fee", coins.String()),
		)
	}
	return evts
}

// relayerTxLocked records a tx signed by the relayer on l.
func (l *Ledger) relayerTxLocked(action string, evts ...blockdb.Event) ibc.TxResult {
	relayer := l.keys[RelayerKey]
	fee := l.relayerFee()
	if !l.debit(relayer, fee) {
		fee = sdk.NewCoins()
	}
	head := []blockdb.Event{
		event("tx", "fee", fee.String(), "fee_payer", relayer),
		event("message", "action", action, "sender", relayer),
	}
	return l.commitLocked(append(head, evts...))
}

// relayerFee is gas wanted times the configured gas price, truncated.
func (l *Ledger) relayerFee() sdk.Coins {
	prices, err := sdk.ParseDecCoins(l.cfg.GasPrices)
	if err != nil || prices.Empty() {
		return sdk.NewCoins()
	}
	fee, _ := prices.MulDec(sdk.NewDec(defaultGasWanted)).TruncateDecimal()
	return fee
}
