// Package cosmos talks to running Cosmos SDK ledgers: queries go over gRPC and
// CometBFT RPC, txs are signed and broadcast with the ledger cli.
package cosmos

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	rpcclient "github.com/cometbft/cometbft/rpc/client"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	libclient "github.com/cometbft/cometbft/rpc/jsonrpc/client"
	"github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	bankTypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	feetypes "github.com/cosmos/ibc-go/v7/modules/apps/29-fee/types"
	transfertypes "github.com/cosmos/ibc-go/v7/modules/apps/transfer/types"
	chanTypes "github.com/cosmos/ibc-go/v7/modules/core/04-channel/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

var _ ibc.Chain = (*CosmosChain)(nil)

// Endpoints are the network addresses of one ledger node.
type Endpoints struct {
	// GRPC is host:port of the gRPC server.
	GRPC string
	// RPC is the CometBFT RPC url, e.g. http://localhost:26657.
	RPC string
}

// CosmosChain is a running Cosmos SDK ledger. Implements the ibc.Chain interface.
type CosmosChain struct {
	cfg  ibc.ChainConfig
	log  *zap.Logger
	conn *grpc.ClientConn
	rpc  rpcclient.Client
	node *Node

	bank     bankTypes.QueryClient
	channels chanTypes.QueryClient
	transfer transfertypes.QueryClient
	fees     feetypes.QueryClient
	txs      txtypes.ServiceClient
}

// NewCosmosChain connects to the endpoints; txs are run through exec.
func NewCosmosChain(log *zap.Logger, cfg ibc.ChainConfig, endpoints Endpoints, exec Executor) (*CosmosChain, error) {
	conn, err := grpc.Dial(endpoints.GRPC, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial grpc %s: %w", endpoints.GRPC, err)
	}
	rpc, err := NewClient(endpoints.RPC)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c := &CosmosChain{
		cfg:      cfg,
		log:      log.With(zap.String("chain_id", cfg.ChainID)),
		conn:     conn,
		rpc:      rpc,
		bank:     bankTypes.NewQueryClient(conn),
		channels: chanTypes.NewQueryClient(conn),
		transfer: transfertypes.NewQueryClient(conn),
		fees:     feetypes.NewQueryClient(conn),
		txs:      txtypes.NewServiceClient(conn),
	}
	c.node = NewNode(log, cfg, exec, c)
	return c, nil
}

// NewClient creates a CometBFT RPC client for addr.
func NewClient(addr string) (rpcclient.Client, error) {
	httpClient, err := libclient.DefaultHTTPClient(addr)
	if err != nil {
		return nil, err
	}

	httpClient.Timeout = 10 * time.Second
	rpcClient, err := rpchttp.NewWithClient(addr, "/websocket", httpClient)
	if err != nil {
		return nil, fmt.Errorf("rpc client %s: %w", addr, err)
	}
	return rpcClient, nil
}

func (c *CosmosChain) Config() ibc.ChainConfig {
	return c.cfg
}

func (c *CosmosChain) Logger() *zap.Logger {
	return c.log
}

// Node returns the cli node txs are broadcast with.
func (c *CosmosChain) Node() *Node {
	return c.node
}

// Close releases the gRPC connection.
func (c *CosmosChain) Close() error {
	return c.conn.Close()
}

func queryErr(op string, err error) error {
	if ibc.IsTransient(err) {
		return ibc.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *CosmosChain) Submit(ctx context.Context, tx ibc.Tx) (ibc.TxResult, error) {
	return c.node.Submit(ctx, tx)
}

// GetBalance fetches the current balance for a specific account address and denom.
func (c *CosmosChain) GetBalance(ctx context.Context, address string, denom string) (sdkmath.Int, error) {
	res, err := c.bank.Balance(ctx, &bankTypes.QueryBalanceRequest{Address: address, Denom: denom})
	if err != nil {
		return sdkmath.Int{}, queryErr("balance", err)
	}
	if res.Balance == nil {
		return sdkmath.ZeroInt(), nil
	}
	return res.Balance.Amount, nil
}

// AllBalances fetches an account address's balance for all denoms it holds
func (c *CosmosChain) AllBalances(ctx context.Context, address string) (types.Coins, error) {
	res, err := c.bank.AllBalances(ctx, &bankTypes.QueryAllBalancesRequest{Address: address})
	if err != nil {
		return nil, queryErr("all balances", err)
	}
	return res.GetBalances(), nil
}

func (c *CosmosChain) Height(ctx context.Context) (uint64, error) {
	res, err := c.rpc.Status(ctx)
	if err != nil {
		return 0, queryErr("tendermint rpc client status", err)
	}
	return uint64(res.SyncInfo.LatestBlockHeight), nil
}

func (c *CosmosChain) QueryChannels(ctx context.Context, connectionID string) ([]ibc.ChannelOutput, error) {
	res, err := c.channels.ConnectionChannels(ctx, &chanTypes.QueryConnectionChannelsRequest{Connection: connectionID})
	if err != nil {
		return nil, queryErr("connection channels", err)
	}
	out := make([]ibc.ChannelOutput, len(res.Channels))
	for i, ch := range res.Channels {
		out[i] = channelOutput(ch)
	}
	return out, nil
}

func channelOutput(ch *chanTypes.IdentifiedChannel) ibc.ChannelOutput {
	return ibc.ChannelOutput{
		State:    ch.State.String(),
		Ordering: ch.Ordering.String(),
		Counterparty: ibc.ChannelCounterparty{
			PortID:    ch.Counterparty.PortId,
			ChannelID: ch.Counterparty.ChannelId,
		},
		ConnectionHops: ch.ConnectionHops,
		Version:        ch.Version,
		PortID:         ch.PortId,
		ChannelID:      ch.ChannelId,
	}
}

func (c *CosmosChain) QueryDenomTrace(ctx context.Context, hashOrPath string) (ibc.DenomTrace, error) {
	hash := strings.TrimPrefix(hashOrPath, ibc.DenomPrefix)
	res, err := c.transfer.DenomTrace(ctx, &transfertypes.QueryDenomTraceRequest{Hash: hash})
	if err != nil {
		return ibc.DenomTrace{}, queryErr("denom trace", err)
	}
	if res.DenomTrace == nil {
		return ibc.DenomTrace{}, fmt.Errorf("denomination trace %s not found", hash)
	}
	return ibc.ParseDenomTrace(res.DenomTrace.GetFullDenomPath())
}

func (c *CosmosChain) IncentivizedPacket(ctx context.Context, id ibc.PacketID) ([]ibc.PacketFee, error) {
	res, err := c.fees.IncentivizedPacket(ctx, &feetypes.QueryIncentivizedPacketRequest{
		PacketId: chanTypes.NewPacketID(id.PortID, id.ChannelID, id.Sequence),
	})
	if err != nil {
		return nil, queryErr("incentivized packet", err)
	}
	out := make([]ibc.PacketFee, len(res.IncentivizedPacket.PacketFees))
	for i, pf := range res.IncentivizedPacket.PacketFees {
		out[i] = ibc.PacketFee{
			Fee: ibc.Fee{
				RecvFee:    pf.Fee.RecvFee,
				AckFee:     pf.Fee.AckFee,
				TimeoutFee: pf.Fee.TimeoutFee,
			},
			RefundAddress: pf.RefundAddress,
			Relayers:      pf.Relayers,
		}
	}
	return out, nil
}

// GetTx returns a committed tx by hash.
func (c *CosmosChain) GetTx(ctx context.Context, hash string) (ibc.TxResult, error) {
	res, err := c.txs.GetTx(ctx, &txtypes.GetTxRequest{Hash: hash})
	if err != nil {
		return ibc.TxResult{}, queryErr("get tx", err)
	}
	return txResult(res.TxResponse), nil
}

func (c *CosmosChain) QueryTxs(ctx context.Context, query string) ([]ibc.TxResult, error) {
	res, err := c.txs.GetTxsEvent(ctx, &txtypes.GetTxsEventRequest{
		Events:  SplitQuery(query),
		OrderBy: txtypes.OrderBy_ORDER_BY_ASC,
		Page:    1,
		Limit:   100,
	})
	if err != nil {
		return nil, queryErr("txs by event", err)
	}
	out := make([]ibc.TxResult, len(res.TxResponses))
	for i, r := range res.TxResponses {
		out[i] = txResult(r)
	}
	return out, nil
}

// SplitQuery turns "a.b='x' AND c.d='y'" into the event list of a tx search.
func SplitQuery(query string) []string {
	parts := strings.Split(query, " AND ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func txResult(r *types.TxResponse) ibc.TxResult {
	if r == nil {
		return ibc.TxResult{}
	}
	return ibc.TxResult{
		Code:      r.Code,
		Codespace: r.Codespace,
		RawLog:    r.RawLog,
		TxHash:    r.TxHash,
		Height:    r.Height,
		GasWanted: r.GasWanted,
		GasUsed:   r.GasUsed,
		Events:    events.FromABCI(r.Events),
	}
}

func (c *CosmosChain) BlockTxEvents(ctx context.Context, height uint64) ([][]blockdb.Event, error) {
	h := int64(height)
	res, err := c.rpc.BlockResults(ctx, &h)
	if err != nil {
		return nil, queryErr(fmt.Sprintf("block results at %d", height), err)
	}
	out := make([][]blockdb.Event, len(res.TxsResults))
	for i, tx := range res.TxsResults {
		out[i] = events.FromABCI(tx.Events)
	}
	return out, nil
}
