package ibc

import (
	"context"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
)

// Submitter signs and broadcasts txs. A tx the ledger rejects (code != 0) is
// returned together with a *LedgerRejection error carrying the raw log verbatim.
type Submitter interface {
	Submit(ctx context.Context, tx Tx) (TxResult, error)
}

// BalanceQuerier reads bank balances. A denom the account does not hold has a zero balance.
type BalanceQuerier interface {
	GetBalance(ctx context.Context, address, denom string) (sdkmath.Int, error)
	AllBalances(ctx context.Context, address string) (sdk.Coins, error)
}

// EventQuerier searches txs by event criteria and reads block results.
type EventQuerier interface {
	// QueryTxs returns the txs matching query, e.g. "message.action='/ibc.core.channel.v1.MsgRecvPacket'".
	QueryTxs(ctx context.Context, query string) ([]TxResult, error)
	// BlockTxEvents returns the events of every tx included at height, one slice per tx.
	BlockTxEvents(ctx context.Context, height uint64) ([][]blockdb.Event, error)
}

// ChannelQuerier lists the channels built on a connection.
type ChannelQuerier interface {
	QueryChannels(ctx context.Context, connectionID string) ([]ChannelOutput, error)
}

// DenomTraceQuerier resolves an ibc denom hash (or a full denom path) to its trace.
type DenomTraceQuerier interface {
	QueryDenomTrace(ctx context.Context, hashOrPath string) (DenomTrace, error)
}

// FeeQuerier reads the fees escrowed for an incentivized packet.
type FeeQuerier interface {
	IncentivizedPacket(ctx context.Context, packet PacketID) ([]PacketFee, error)
}

// Chain is the full capability the verifier consumes from one ledger.
type Chain interface {
	Submitter
	BalanceQuerier
	EventQuerier
	ChannelQuerier
	DenomTraceQuerier
	FeeQuerier

	Config() ChainConfig
	Height(ctx context.Context) (uint64, error)
}
