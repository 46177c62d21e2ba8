package simnet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

const (
	defaultGasWanted = 200_000

	codeInsufficientFunds = 5
	codeUnknownRequest    = 6
	codeInvalidRequest    = 18
	codeChannelNotOpen    = 21
)

// Ledger is one simulated ledger. Every tx is included in its own block.
type Ledger struct {
	net *Network
	cfg ibc.ChainConfig

	height   uint64
	txCount  int
	txs      []ibc.TxResult
	keys     map[string]string
	balances map[string]sdk.Coins
	channels map[string]*channelEnd
	nextChan int
	traces   map[string]ibc.DenomTrace
	packets  map[ibc.PacketID]*inflight
	fees     map[ibc.PacketID][]escrowedFee
	// payees maps channel/relayer to the registered recv fee payee.
	payees map[string]string
}

var _ ibc.Chain = (*Ledger)(nil)

func (l *Ledger) Config() ibc.ChainConfig {
	return l.cfg
}

// AddAccount creates a key and funds it.
func (l *Ledger) AddAccount(name string, coins ...sdk.Coin) string {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	addr := l.addKeyLocked(name)
	l.credit(addr, sdk.NewCoins(coins...))
	return addr
}

// Address returns the address of a key name.
func (l *Ledger) Address(name string) string {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	return l.keys[name]
}

// ModuleAddress returns the address of a module account, e.g. "feeibc".
func (l *Ledger) ModuleAddress(module string) string {
	return addressFor(l.cfg.Bech32Prefix, "module/"+module)
}

func (l *Ledger) addKeyLocked(name string) string {
	if addr, ok := l.keys[name]; ok {
		return addr
	}
	addr := addressFor(l.cfg.Bech32Prefix, name)
	l.keys[name] = addr
	return addr
}

func (l *Ledger) resolve(signer string) string {
	if addr, ok := l.keys[signer]; ok {
		return addr
	}
	return signer
}

func (l *Ledger) credit(addr string, coins sdk.Coins) {
	if coins.IsZero() {
		return
	}
	l.balances[addr] = l.balances[addr].Add(coins...)
}

func (l *Ledger) debit(addr string, coins sdk.Coins) bool {
	if coins.IsZero() {
		return true
	}
	left, negative := l.balances[addr].SafeSub(coins...)
	if negative {
		return false
	}
	l.balances[addr] = left
	return true
}

func (l *Ledger) GetBalance(_ context.Context, address, denom string) (sdkmath.Int, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	return l.balances[address].AmountOfNoDenomValidation(denom), nil
}

func (l *Ledger) AllBalances(_ context.Context, address string) (sdk.Coins, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	return sdk.NewCoins(l.balances[address]...), nil
}

func (l *Ledger) Height(context.Context) (uint64, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	return l.height, nil
}

func (l *Ledger) QueryChannels(_ context.Context, connectionID string) ([]ibc.ChannelOutput, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	var out []ibc.ChannelOutput
	for _, ch := range l.channels {
		if ch.connection == connectionID {
			out = append(out, ch.output())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (l *Ledger) QueryDenomTrace(_ context.Context, hashOrPath string) (ibc.DenomTrace, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	hash := strings.TrimPrefix(hashOrPath, ibc.DenomPrefix)
	if strings.Contains(hash, "/") {
		trace, err := ibc.ParseDenomTrace(hash)
		if err != nil {
			return ibc.DenomTrace{}, err
		}
		hash = trace.Hash()
	}
	trace, ok := l.traces[hash]
	if !ok {
		return ibc.DenomTrace{}, fmt.Errorf("denomination trace %s not found", hash)
	}
	return trace, nil
}

func (l *Ledger) IncentivizedPacket(_ context.Context, id ibc.PacketID) ([]ibc.PacketFee, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	fees, ok := l.fees[id]
	if !ok {
		return nil, fmt.Errorf("no fees escrowed for packet %s", id)
	}
	out := make([]ibc.PacketFee, len(fees))
	for i, f := range fees {
		out[i] = f.PacketFee
	}
	return out, nil
}

func (l *Ledger) QueryTxs(_ context.Context, query string) ([]ibc.TxResult, error) {
	q, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	var out []ibc.TxResult
	for _, tx := range l.txs {
		if q.matches(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *Ledger) BlockTxEvents(_ context.Context, height uint64) ([][]blockdb.Event, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	if height > l.height {
		return nil, fmt.Errorf("height %d must be less than or equal to the current blockchain height %d", height, l.height)
	}
	var out [][]blockdb.Event
	for _, tx := range l.txs {
		if uint64(tx.Height) == height {
			out = append(out, tx.Events)
		}
	}
	return out, nil
}

// Submit executes tx in a new block.
func (l *Ledger) Submit(_ context.Context, tx ibc.Tx) (ibc.TxResult, error) {
	l.net.mu.Lock()
	defer l.net.mu.Unlock()

	signer := l.resolve(tx.Signer())
	var (
		evts []blockdb.Event
		err  *ibc.LedgerRejection
	)
	fees, perr := sdk.ParseCoinsNormalized(ibc.OptionsOf(tx).Fees)
	if perr != nil {
		return l.rejectLocked(codeInvalidRequest, "invalid fees: "+perr.Error())
	}
	if !l.debit(signer, fees) {
		return l.rejectLocked(codeInsufficientFunds, fmt.Sprintf("insufficient funds to pay fees %s", fees))
	}

	switch tx := tx.(type) {
	case ibc.TransferTx:
		evts, err = l.sendTransferLocked(signer, tx)
	case ibc.PayPacketFeeTx:
		evts, err = l.payPacketFeeLocked(signer, tx)
	case ibc.RegisterPayeeTx:
		evts, err = l.registerPayeeLocked(signer, tx)
	case ibc.BankSendTx:
		evts, err = l.bankSendLocked(signer, tx)
	case ibc.RegisterICATx:
		evts, err = l.registerICALocked(signer, tx)
	default:
		err = &ibc.LedgerRejection{Code: codeUnknownRequest, Codespace: "sdk", RawLog: fmt.Sprintf("unrecognized tx type %T", tx)}
	}
	if err != nil {
		l.credit(signer, fees)
		return l.rejectLocked(err.Code, err.RawLog)
	}

	evts = append([]blockdb.Event{
		event("tx", "fee", fees.String(), "fee_payer", signer),
		event("message", "sender", signer),
	}, evts...)
	return l.commitLocked(evts), nil
}

// commitLocked records a successful tx in a new block.
func (l *Ledger) commitLocked(evts []blockdb.Event) ibc.TxResult {
	l.height++
	res := ibc.TxResult{
		Height:    int64(l.height),
		TxHash:    l.nextHashLocked(),
		GasWanted: defaultGasWanted,
		GasUsed:   defaultGasWanted * 3 / 4,
		Events:    evts,
	}
	l.txs = append(l.txs, res)
	return res
}

func (l *Ledger) rejectLocked(code uint32, rawLog string) (ibc.TxResult, error) {
	l.height++
	res := ibc.TxResult{
		Code:      code,
		Codespace: "sdk",
		RawLog:    rawLog,
		Height:    int64(l.height),
		TxHash:    l.nextHashLocked(),
		GasWanted: defaultGasWanted,
	}
	return res, ibc.RejectionFromResult(res)
}

func (l *Ledger) nextHashLocked() string {
	l.txCount++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", l.cfg.ChainID, l.txCount)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (l *Ledger) bankSendLocked(signer string, tx ibc.BankSendTx) ([]blockdb.Event, *ibc.LedgerRejection) {
	if !l.debit(signer, tx.Amount) {
		return nil, insufficientFunds(tx.Amount)
	}
	to := l.resolve(tx.To)
	l.credit(to, tx.Amount)
	return []blockdb.Event{
		event("coin_spent", "spender", signer, "amount", tx.Amount.String()),
		event("coin_received", "receiver", to, "amount", tx.Amount.String()),
		event("transfer", "recipient", to, "sender", signer, "amount", tx.Amount.String()),
	}, nil
}

func insufficientFunds(want fmt.Stringer) *ibc.LedgerRejection {
	return &ibc.LedgerRejection{Code: codeInsufficientFunds, Codespace: "sdk", RawLog: fmt.Sprintf("insufficient funds: %s", want)}
}

func event(typ string, kv ...string) blockdb.Event {
	evt := blockdb.Event{Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		evt.Attributes = append(evt.Attributes, blockdb.EventAttribute{Key: kv[i], Value: kv[i+1]})
	}
	return evt
}
