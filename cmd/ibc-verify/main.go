package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/config"
	"github.com/dymensionxyz/ibc-convergence/cosmos"
	"github.com/dymensionxyz/ibc-convergence/metrics"
)

var cfgFile string

// state shared by every subcommand, set up before it runs
var (
	cfg       config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	docker    *client.Client
)

var rootCmd = &cobra.Command{
	Use:           "ibc-verify",
	Short:         "Verify that IBC transfers, fees and handshakes converge",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err = cfg.Logger()
		if err != nil {
			return err
		}
		logger = logger.With(zap.String("run_id", uuid.NewString()))
		collector = metrics.NewCollector()
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := metrics.Serve(cmd.Context(), logger, cfg.Metrics.Listen, collector); err != nil {
					logger.Error("metrics server stopped", zap.Error(err))
				}
			}()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if docker != nil {
			docker.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("IBC_VERIFY_CONFIG"), "config file (default is $IBC_VERIFY_CONFIG)")
	rootCmd.AddCommand(denomCmd)
	rootCmd.AddCommand(waitChannelCmd)
	rootCmd.AddCommand(checkDuplicatesCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(reconcileTransferCmd)
}

// connect builds a client for the configured chain name.
func connect(ctx context.Context, name string) (*cosmos.CosmosChain, config.ChainConfig, error) {
	chainCfg, err := cfg.Chain(name)
	if err != nil {
		return nil, config.ChainConfig{}, err
	}
	var api cosmos.DockerAPI
	if chainCfg.DockerContainer != "" {
		if docker == nil {
			docker, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return nil, config.ChainConfig{}, fmt.Errorf("docker client: %w", err)
			}
		}
		api = docker
	}
	chain, err := chainCfg.Connect(ctx, logger, api)
	if err != nil {
		return nil, config.ChainConfig{}, err
	}
	return chain, chainCfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
