package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/events"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/reconcile"
	"github.com/dymensionxyz/ibc-convergence/scenario"
	"github.com/dymensionxyz/ibc-convergence/testutil"
)

var denomCmd = &cobra.Command{
	Use:   "denom [CHANNEL|PATH] [BASE_DENOM]",
	Short: "Derive the ibc denom of a token, e.g. denom channel-0 basetcro",
	Long: `With a channel id the denom after one hop over the transfer port is printed.
A full path such as transfer/channel-0/transfer/channel-7 derives a multi hop denom.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, base := args[0], args[1]
		if !strings.Contains(path, "/") {
			denom, err := ibc.DeriveDenom(path, base)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), denom)
			return nil
		}
		hash, err := ibc.DeriveTrace(path, base)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ibc/"+hash)
		return nil
	},
}

var waitChannelCmd = &cobra.Command{
	Use:   "wait-channel [CHAIN] [CONNECTION] [CHANNEL] [STATE]",
	Short: "Wait until a channel reaches a state (STATE_OPEN by default)",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ibc.StateOpen
		if len(args) == 4 {
			state, err := ibc.ParseChannelState(args[3])
			if err != nil {
				return err
			}
			target = state
		}
		chain, _, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer chain.Close()

		ch, err := testutil.WaitForChannelState(cmd.Context(), cfg.Poller(logger, collector), chain, args[1], args[2], target)
		if err != nil {
			return err
		}
		return printJSON(cmd, ch)
	},
}

var (
	checkHeight   uint64
	checkLenient  bool
	checkFile     string
	checkEncoding string
)

var checkDuplicatesCmd = &cobra.Command{
	Use:   "check-duplicates [CHAIN] [QUERY]",
	Short: "Check the events of matching txs for repeated records and repeated events",
	Long: `Checks every tx matching QUERY, e.g. "message.action='/ibc.core.channel.v1.MsgRecvPacket'".
With --height the txs of that block are checked instead and QUERY may be omitted.
With --file the txs of a saved block_results response are checked and no chain is contacted.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		txEvents, err := loadTxEvents(cmd, args)
		if err != nil {
			return err
		}

		detector := events.NewDetector()
		detector.Strict = !checkLenient
		var result error
		for i, evts := range txEvents {
			result = multierr.Append(result, events.AssertNoDuplicates(evts, detector))
			result = multierr.Append(result, events.AssertNoCrossEventDuplicate(evts))
			if checkLenient {
				for _, evt := range evts {
					for _, a := range detector.Scan(evt.Attributes).Anomalies {
						logger.Warn("event record shape", zap.Int("tx", i), zap.String("event", evt.Type), zap.Stringer("anomaly", a))
					}
				}
			}
			logger.Debug("checked tx events", zap.Int("tx", i), zap.Int("events", len(evts)))
		}
		for _, err := range multierr.Errors(result) {
			collector.Violation(violationName(err))
		}
		logger.Info("duplicate check finished", zap.Int("txs", len(txEvents)), zap.Int("violations", len(multierr.Errors(result))))
		return result
	},
}

// loadTxEvents reads the events per tx from --file or from the chain in args.
func loadTxEvents(cmd *cobra.Command, args []string) ([][]blockdb.Event, error) {
	if checkFile != "" {
		enc, err := events.ParseEncoding(checkEncoding)
		if err != nil {
			return nil, err
		}
		bz, err := os.ReadFile(checkFile)
		if err != nil {
			return nil, err
		}
		return events.TxResultsFromJSON(bz, enc)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("either CHAIN or --file is required")
	}

	chain, _, err := connect(cmd.Context(), args[0])
	if err != nil {
		return nil, err
	}
	defer chain.Close()

	switch {
	case checkHeight > 0:
		return chain.BlockTxEvents(cmd.Context(), checkHeight)
	case len(args) == 2:
		txs, err := chain.QueryTxs(cmd.Context(), args[1])
		if err != nil {
			return nil, err
		}
		txEvents := make([][]blockdb.Event, 0, len(txs))
		for _, tx := range txs {
			txEvents = append(txEvents, tx.Events)
		}
		return txEvents, nil
	default:
		return nil, fmt.Errorf("either QUERY or --height is required")
	}
}

func violationName(err error) string {
	var v *ibc.InvariantViolation
	if errors.As(err, &v) {
		return v.Invariant
	}
	return "unknown"
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [CHAIN] [ADDRESS]...",
	Short: "Print every balance of the given accounts",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, _, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer chain.Close()

		accounts := make([]reconcile.Account, 0, len(args)-1)
		for i, addr := range args[1:] {
			accounts = append(accounts, reconcile.Account{Name: "account" + strconv.Itoa(i), Chain: chain, Address: addr})
		}
		snaps, err := reconcile.CaptureAll(cmd.Context(), accounts...)
		if err != nil {
			return err
		}
		return printJSON(cmd, snaps)
	},
}

var (
	transferSigner   string
	transferReceiver string
	transferKey      string
	transferLegs     int64
)

var reconcileTransferCmd = &cobra.Command{
	Use:   "reconcile-transfer [SRC_CHAIN] [SRC_CHANNEL] [DST_CHAIN] [DST_CHANNEL] [AMOUNT]",
	Short: "Send a transfer, wait for it to land and reconcile both balances",
	Long: `Sends AMOUNT (e.g. 1000basetcro) from the --from key to --to on the destination
ledger. With --legs > 0 the tokens are sent back in that many parts and the round trip is
reconciled as well.`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		coin, err := sdk.ParseCoinNormalized(args[4])
		if err != nil {
			return err
		}
		src, srcCfg, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer src.Close()
		dst, _, err := connect(cmd.Context(), args[2])
		if err != nil {
			return err
		}
		defer dst.Close()

		model, err := cfg.Model(logger, collector, srcCfg.Bech32Prefix)
		if err != nil {
			return err
		}
		env := scenario.Env{Poller: cfg.Poller(logger, collector), Model: model, Log: logger}
		srcSide := scenario.Side{Chain: src, Channel: args[1], Signer: transferKey, Address: transferSigner}
		dstSide := scenario.Side{Chain: dst, Channel: args[3], Signer: transferKey, Address: transferReceiver}

		var reports []reconcile.Report
		if transferLegs > 0 {
			reports, err = scenario.MultiTransfer(cmd.Context(), env, srcSide, dstSide, coin, transferLegs)
		} else {
			var report reconcile.Report
			_, report, err = scenario.Transfer(cmd.Context(), env, srcSide, dstSide, coin)
			reports = append(reports, report)
		}
		if perr := printJSON(cmd, reports); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	checkDuplicatesCmd.Flags().Uint64Var(&checkHeight, "height", 0, "check the txs of this block instead of a query")
	checkDuplicatesCmd.Flags().BoolVar(&checkLenient, "lenient", false, "do not fail on records that break the receiver/amount shape")
	checkDuplicatesCmd.Flags().StringVar(&checkFile, "file", "", "check a saved block_results json response instead of a chain")
	checkDuplicatesCmd.Flags().StringVar(&checkEncoding, "encoding", "auto", "attribute encoding of --file: auto, plain or base64")

	reconcileTransferCmd.Flags().StringVar(&transferKey, "key", "", "key name that signs the transfer")
	reconcileTransferCmd.Flags().StringVar(&transferSigner, "from", "", "address of the signing key")
	reconcileTransferCmd.Flags().StringVar(&transferReceiver, "to", "", "receiver address on the destination ledger")
	reconcileTransferCmd.Flags().Int64Var(&transferLegs, "legs", 0, "send the tokens back in this many parts")
	_ = reconcileTransferCmd.MarkFlagRequired("key")
	_ = reconcileTransferCmd.MarkFlagRequired("from")
	_ = reconcileTransferCmd.MarkFlagRequired("to")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
