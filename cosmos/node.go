package cosmos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/testutil"
)

// TxGetter looks up committed txs and the current height.
type TxGetter interface {
	GetTx(ctx context.Context, hash string) (ibc.TxResult, error)
	Height(ctx context.Context) (uint64, error)
}

// Node signs and broadcasts txs with the ledger cli.
type Node struct {
	cfg  ibc.ChainConfig
	exec Executor
	txs  TxGetter

	lock sync.Mutex
	log  *zap.Logger

	// tx lookup after broadcast, the tx may not be indexed yet
	lookupAttempts uint
	lookupDelay    time.Duration
	// waits for TxOptions.WaitBlocks
	blocks testutil.Poller
}

func NewNode(log *zap.Logger, cfg ibc.ChainConfig, exec Executor, txs TxGetter) *Node {
	return &Node{
		cfg:            cfg,
		exec:           exec,
		txs:            txs,
		log:            log,
		lookupAttempts: 15,
		lookupDelay:    200 * time.Millisecond,
		blocks:         testutil.NewPoller(log),
	}
}

// CosmosTx is the json a cli prints after broadcasting.
type CosmosTx struct {
	TxHash    string `json:"txhash"`
	Code      int    `json:"code"`
	Codespace string `json:"codespace"`
	RawLog    string `json:"raw_log"`
}

// BinCommand is the full command for the ledger binary, e.g. ("keys", "show", "key1")
// becomes "gaiad keys show key1 --home <home>".
func (node *Node) BinCommand(command ...string) []string {
	command = append([]string{node.cfg.Bin}, command...)
	if node.cfg.Home != "" {
		command = append(command, "--home", node.cfg.Home)
	}
	return command
}

// NodeCommand is BinCommand plus the flags that reach the rpc endpoint.
func (node *Node) NodeCommand(command ...string) []string {
	command = node.BinCommand(command...)
	if node.cfg.Node != "" {
		command = append(command, "--node", node.cfg.Node)
	}
	return append(command, "--chain-id", node.cfg.ChainID)
}

// TxCommand is the full command for broadcasting a tx signed by keyName.
func (node *Node) TxCommand(keyName string, command ...string) []string {
	command = append([]string{"tx"}, command...)
	var gasPriceFound, gasAdjustmentFound, feesFound = false, false, false
	for i := 0; i < len(command); i++ {
		switch command[i] {
		case "--gas-prices":
			gasPriceFound = true
		case "--gas-adjustment":
			gasAdjustmentFound = true
		case "--fees":
			feesFound = true
		}
	}
	if !gasPriceFound && !feesFound && node.cfg.GasPrices != "" {
		command = append(command, "--gas-prices", node.cfg.GasPrices)
	}
	if !gasAdjustmentFound && node.cfg.GasAdjustment > 0 {
		command = append(command, "--gas-adjustment", fmt.Sprint(node.cfg.GasAdjustment))
	}
	backend := node.cfg.KeyringBackend
	if backend == "" {
		backend = keyring.BackendTest
	}
	return node.NodeCommand(append(command,
		"--from", keyName,
		"--keyring-backend", backend,
		"--output", "json",
		"-y",
	)...)
}

// ExecTx broadcasts a tx and returns what the cli printed.
func (node *Node) ExecTx(ctx context.Context, keyName string, command ...string) (CosmosTx, error) {
	node.lock.Lock()
	defer node.lock.Unlock()

	stdout, _, err := node.exec.Exec(ctx, node.TxCommand(keyName, command...), nil)
	if err != nil {
		return CosmosTx{}, err
	}
	// some cli versions print a gas estimate line before the json
	if i := bytes.IndexByte(stdout, '{'); i > 0 {
		stdout = stdout[i:]
	}
	output := CosmosTx{}
	if err := json.Unmarshal(stdout, &output); err != nil {
		return CosmosTx{}, fmt.Errorf("decoding broadcast output: %w", err)
	}
	return output, nil
}

// Submit broadcasts tx, waits for it to be committed and returns its result.
func (node *Node) Submit(ctx context.Context, tx ibc.Tx) (ibc.TxResult, error) {
	out, err := node.ExecTx(ctx, tx.Signer(), tx.Args()...)
	if err != nil {
		return ibc.TxResult{}, fmt.Errorf("broadcast %T: %w", tx, err)
	}
	if out.Code != 0 {
		res := ibc.TxResult{Code: uint32(out.Code), Codespace: out.Codespace, RawLog: out.RawLog, TxHash: out.TxHash}
		return res, ibc.RejectionFromResult(res)
	}

	res, err := node.getTransaction(ctx, out.TxHash)
	if err != nil {
		return ibc.TxResult{TxHash: out.TxHash}, fmt.Errorf("failed to get transaction %s: %w", out.TxHash, err)
	}
	if !res.OK() {
		return res, ibc.RejectionFromResult(res)
	}
	node.logger().Info("tx committed",
		zap.String("txhash", res.TxHash),
		zap.Int64("height", res.Height),
		zap.Int64("gas_wanted", res.GasWanted),
	)

	if wait := ibc.OptionsOf(tx).WaitBlocks; wait > 0 {
		if _, err := testutil.WaitForHeight(ctx, node.blocks, node.txs, uint64(res.Height)+uint64(wait)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (node *Node) getTransaction(ctx context.Context, txHash string) (ibc.TxResult, error) {
	// Retry because sometimes the tx is not committed to state yet.
	var res ibc.TxResult
	err := retry.Do(func() error {
		var err error
		res, err = node.txs.GetTx(ctx, txHash)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(node.lookupAttempts),
		retry.Delay(node.lookupDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return res, err
}

func (node *Node) logger() *zap.Logger {
	if node.log == nil {
		return zap.NewNop()
	}
	return node.log.With(zap.String("chain_id", node.cfg.ChainID))
}
