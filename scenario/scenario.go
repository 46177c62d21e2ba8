// Package scenario composes the waits and reconciliation checks into the
// end to end flows the verifier runs against a pair of ledgers.
package scenario

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/reconcile"
	"github.com/dymensionxyz/ibc-convergence/testutil"
)

// Side is one end of a channel together with the account acting on it.
type Side struct {
	Chain   ibc.Chain
	Channel string
	// Signer is the key name used to sign txs.
	Signer string
	// Address is the bech32 address of Signer.
	Address string
}

func (s Side) account(name string) reconcile.Account {
	return reconcile.Account{Name: name, Chain: s.Chain, Address: s.Address}
}

// Env carries the poller and the model every scenario uses.
type Env struct {
	Poller testutil.Poller
	Model  reconcile.Model
	Log    *zap.Logger
}

func (e Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// TxFees returns the fees a tx paid, read from its "tx" event. A tx without
// the event paid nothing as far as the verifier can tell.
func TxFees(res ibc.TxResult) (sdk.Coins, error) {
	raw, ok := events.AttributeValue(res.Events, events.TypeTx, "fee")
	if !ok || raw == "" {
		return sdk.NewCoins(), nil
	}
	fees, err := sdk.ParseCoinsNormalized(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid fee %q in tx %s: %w", raw, res.TxHash, err)
	}
	return fees, nil
}

// send submits an ics20 transfer of coin from src to dst and returns the
// packet it emitted.
func send(ctx context.Context, src, dst Side, coin sdk.Coin) (ibc.TxResult, ibc.Packet, error) {
	res, err := src.Chain.Submit(ctx, ibc.TransferTx{
		From:          src.Signer,
		Receiver:      dst.Address,
		SourcePort:    ibc.TransferPortID,
		SourceChannel: src.Channel,
		Amount:        coin,
	})
	if err != nil {
		return res, ibc.Packet{}, fmt.Errorf("transfer %s over %s: %w", coin, src.Channel, err)
	}
	packet, err := events.SendPacket(res.Events)
	if err != nil {
		return res, ibc.Packet{}, err
	}
	return res, packet, nil
}

// awaitPlain polls until the receiver is credited for t and checks the balances
// of both accounts against the state captured before sending.
func awaitPlain(ctx context.Context, env Env, t reconcile.Transfer, src, dst Side, before []reconcile.Snapshot) (reconcile.Report, error) {
	return reconcile.Await(ctx, env.Poller, "transfer of "+t.Amount.String()+" "+t.SendDenom(), func(ctx context.Context) (reconcile.Report, error) {
		after, err := reconcile.CaptureAll(ctx, src.account("sender"), dst.account("receiver"))
		if err != nil {
			return reconcile.Report{}, ibc.Transient("capture balances", err)
		}
		return env.Model.Plain(t, reconcile.PlainObservation{
			SenderBefore:   before[0],
			SenderAfter:    after[0],
			ReceiverBefore: before[1],
			ReceiverAfter:  after[1],
		}), nil
	})
}

// Transfer sends coin from src to dst and waits until the receiver is credited
// and both balances reconcile. It returns the transfer as the model saw it.
func Transfer(ctx context.Context, env Env, src, dst Side, coin sdk.Coin) (reconcile.Transfer, reconcile.Report, error) {
	before, err := reconcile.CaptureAll(ctx, src.account("sender"), dst.account("receiver"))
	if err != nil {
		return reconcile.Transfer{}, reconcile.Report{}, err
	}
	res, packet, err := send(ctx, src, dst, coin)
	if err != nil {
		return reconcile.Transfer{}, reconcile.Report{}, err
	}
	fees, err := TxFees(res)
	if err != nil {
		return reconcile.Transfer{}, reconcile.Report{}, err
	}
	t := reconcile.NewTransfer(coin.Denom, coin.Amount, src.Channel, packet.DestChannel)
	t.SenderFees = fees
	env.logger().Info("sent", zap.String("packet", packet.ID().String()), zap.String("amount", coin.String()))

	report, err := awaitPlain(ctx, env, t, src, dst, before)
	return t, report, err
}

// MultiTransfer sends coin from src to dst, waits for it to arrive, then sends
// it back in legs equal parts and follows the sender's balance until every leg
// has returned. It returns the report of the outbound transfer followed by one
// report per return leg.
func MultiTransfer(ctx context.Context, env Env, src, dst Side, coin sdk.Coin, legs int64) ([]reconcile.Report, error) {
	log := env.logger().With(zap.String("scenario", "multi_transfer"))
	if legs <= 0 || !coin.Amount.ModRaw(legs).IsZero() {
		return nil, fmt.Errorf("%s does not split into %d return legs", coin, legs)
	}

	t, outbound, err := Transfer(ctx, env, src, dst, coin)
	if err != nil {
		return []reconcile.Report{outbound}, err
	}
	reports := []reconcile.Report{outbound}

	if err := reconcile.VerifyDenomTrace(ctx, dst.Chain, t.ReceiveTrace()); err != nil {
		return reports, err
	}

	held, err := dst.Chain.GetBalance(ctx, dst.Address, t.ReceivedDenom())
	if err != nil {
		return reports, err
	}
	sent, err := src.Chain.GetBalance(ctx, src.Address, coin.Denom)
	if err != nil {
		return reports, err
	}
	rt, err := reconcile.NewRoundTrip(coin.Denom, sent.Add(coin.Amount), coin.Amount, legs)
	if err != nil {
		return reports, err
	}
	balance := func(ctx context.Context) (sdkmath.Int, error) {
		return src.Chain.GetBalance(ctx, src.Address, coin.Denom)
	}
	for !rt.Done() {
		if _, _, err := send(ctx, dst, src, sdk.NewCoin(t.ReceivedDenom(), rt.LegAmount())); err != nil {
			return reports, err
		}
		next, report, err := env.Model.AwaitRoundTrip(ctx, env.Poller, rt, balance)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
		rt = next
		log.Info("return leg settled", zap.Int64("settled", rt.Settled()), zap.Int64("legs", rt.Legs))
	}

	left, err := dst.Chain.GetBalance(ctx, dst.Address, t.ReceivedDenom())
	if err != nil {
		return reports, err
	}
	if want := held.Sub(coin.Amount); !left.Equal(want) {
		return reports, &ibc.InvariantViolation{
			Invariant: "round_trip_receiver",
			Subject:   dst.Address + " " + t.ReceivedDenom(),
			Expected:  want.String(),
			Observed:  left.String(),
		}
	}
	return reports, nil
}

// IncentivizedResult holds the reports of an incentivized transfer.
type IncentivizedResult struct {
	Packet   ibc.Packet
	Transfer reconcile.Report
	Escrow   reconcile.Report
	Fee      reconcile.Report
}

// IncentivizedTransfer sends coin from src to dst, pays fee for the packet and
// waits until the transfer lands and the model's relayer accounts on src are
// paid. coin and fee must use different denoms so the two reconciliations stay
// independent.
func IncentivizedTransfer(ctx context.Context, env Env, src, dst Side, coin sdk.Coin, fee reconcile.FeeSchedule) (IncentivizedResult, error) {
	var out IncentivizedResult
	log := env.logger().With(zap.String("scenario", "incentivized_transfer"))
	if coin.Denom == fee.Denom {
		return out, fmt.Errorf("transfer and fee share denom %s", coin.Denom)
	}
	if err := fee.Validate(); err != nil {
		return out, err
	}
	if env.Model.Relayer == "" {
		return out, fmt.Errorf("no relayer account to reconcile fees against")
	}
	withCaller := env.Model.RelayerCaller != ""

	accounts := []reconcile.Account{
		src.account("sender"),
		dst.account("receiver"),
		{Name: "relayer", Chain: src.Chain, Address: env.Model.Relayer},
	}
	if withCaller {
		accounts = append(accounts, reconcile.Account{Name: "relayer caller", Chain: src.Chain, Address: env.Model.RelayerCaller})
	}
	before, err := reconcile.CaptureAll(ctx, accounts...)
	if err != nil {
		return out, err
	}

	res, packet, err := send(ctx, src, dst, coin)
	if err != nil {
		return out, err
	}
	out.Packet = packet
	sendFees, err := TxFees(res)
	if err != nil {
		return out, err
	}

	payRes, err := src.Chain.Submit(ctx, ibc.PayPacketFeeTx{From: src.Signer, Packet: packet.ID(), Fee: fee.Fee()})
	if err != nil {
		return out, fmt.Errorf("pay fee for %s: %w", packet.ID(), err)
	}
	payFees, err := TxFees(payRes)
	if err != nil {
		return out, err
	}
	txFees := sendFees.Add(payFees...)
	log.Info("fee paid", zap.String("packet", packet.ID().String()), zap.String("locked", fee.Locked(env.Model.Escrow).String()))

	paid, err := reconcile.Capture(ctx, src.account("sender"))
	if err != nil {
		return out, err
	}
	out.Escrow = env.Model.EscrowLocked(fee, before[0], paid, txFees)
	if !out.Escrow.Settled() {
		return out, out.Escrow.Err()
	}

	t := reconcile.NewTransfer(coin.Denom, coin.Amount, src.Channel, packet.DestChannel)
	t.SenderFees = txFees
	out.Transfer, err = awaitPlain(ctx, env, t, src, dst, before[:2])
	if err != nil {
		return out, err
	}

	out.Fee, err = reconcile.Await(ctx, env.Poller, "fee distribution for "+packet.ID().String(), func(ctx context.Context) (reconcile.Report, error) {
		after, err := reconcile.CaptureAll(ctx, accounts...)
		if err != nil {
			return reconcile.Report{}, ibc.Transient("capture balances", err)
		}
		obs := reconcile.IncentivizedObservation{
			Fee:           fee,
			Outcome:       reconcile.Acknowledged,
			SenderBefore:  before[0],
			SenderAfter:   after[0],
			RelayerBefore: before[2],
			RelayerAfter:  after[2],
			SenderTxFees:  txFees,
		}
		if withCaller {
			obs.CallerBefore, obs.CallerAfter = before[3], after[3]
		}
		return env.Model.Incentivized(obs), nil
	})
	return out, err
}

// TransferAndCheckDuplicates sends coin from src to dst, waits for the
// receiving tx and checks its events for repeated records and repeated events.
// It returns the receiving tx.
func TransferAndCheckDuplicates(ctx context.Context, env Env, src, dst Side, coin sdk.Coin, detector events.Detector) (ibc.TxResult, error) {
	_, packet, err := send(ctx, src, dst, coin)
	if err != nil {
		return ibc.TxResult{}, err
	}
	recv, err := WaitForRecv(ctx, env.Poller, dst.Chain, packet)
	if err != nil {
		return ibc.TxResult{}, err
	}
	env.logger().Info("checking recv events",
		zap.String("packet", packet.ID().String()),
		zap.String("txhash", recv.TxHash),
		zap.Int("events", len(recv.Events)),
	)
	if err := events.AssertNoDuplicates(recv.Events, detector); err != nil {
		return recv, err
	}
	if err := events.AssertNoCrossEventDuplicate(recv.Events); err != nil {
		return recv, err
	}

	// the block view must agree with the tx view
	block, err := dst.Chain.BlockTxEvents(ctx, uint64(recv.Height))
	if err != nil {
		return recv, err
	}
	for _, evts := range block {
		if err := events.AssertNoCrossEventDuplicate(evts); err != nil {
			return recv, err
		}
	}
	return recv, nil
}

// WaitForRecv waits until the receiving ledger has indexed the tx that
// delivered packet.
func WaitForRecv(ctx context.Context, p testutil.Poller, chain ibc.EventQuerier, packet ibc.Packet) (ibc.TxResult, error) {
	query := fmt.Sprintf("recv_packet.packet_dst_channel='%s' AND recv_packet.packet_sequence='%d'", packet.DestChannel, packet.Sequence)
	return testutil.Poll(ctx, p, "recv of "+packet.ID().String(), func(ctx context.Context) (testutil.Result[ibc.TxResult], error) {
		txs, err := chain.QueryTxs(ctx, query)
		if err != nil {
			return testutil.NotYet[ibc.TxResult](), ibc.Transient("query txs", err)
		}
		if len(txs) == 0 {
			return testutil.NotYet[ibc.TxResult](), nil
		}
		return testutil.Ready(txs[0]), nil
	})
}

// OpenChannel registers an interchain account on the controller over
// connectionID and waits until the handshake opens both ends. hostConnection
// is the connection id on the host, the same as connectionID when empty.
func OpenChannel(ctx context.Context, env Env, controller Side, host ibc.ChannelQuerier, connectionID, hostConnection, version string) (ibc.ChannelOutput, error) {
	if hostConnection == "" {
		hostConnection = connectionID
	}
	res, err := controller.Chain.Submit(ctx, ibc.RegisterICATx{From: controller.Signer, ConnectionID: connectionID, Version: version})
	if err != nil {
		return ibc.ChannelOutput{}, fmt.Errorf("register interchain account: %w", err)
	}
	port, channel, err := events.ChannelOpenInit(res.Events)
	if err != nil {
		return ibc.ChannelOutput{}, err
	}
	env.logger().Info("channel handshake started", zap.String("port", port), zap.String("channel", channel))

	ch, err := testutil.WaitForChannelState(ctx, env.Poller, controller.Chain, connectionID, channel, ibc.StateOpen)
	if err != nil {
		return ibc.ChannelOutput{}, err
	}
	if ch.PortID != port {
		return ch, &ibc.InvariantViolation{Invariant: "channel_port", Subject: channel, Expected: port, Observed: ch.PortID}
	}
	if _, err := testutil.WaitForChannelState(ctx, env.Poller, host, hostConnection, ch.Counterparty.ChannelID, ibc.StateOpen); err != nil {
		return ch, err
	}
	return ch, nil
}
