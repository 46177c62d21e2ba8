package livetests

import (
	"context"
	"os"
	"testing"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dymensionxyz/ibc-convergence/config"
	"github.com/dymensionxyz/ibc-convergence/cosmos"
	"github.com/dymensionxyz/ibc-convergence/metrics"
	"github.com/dymensionxyz/ibc-convergence/scenario"
)

// Defaults match the cronos devnet; each can be overridden from the environment.
var (
	srcChainName  = lookup("IBC_VERIFY_LIVE_SRC_CHAIN", "cronos")
	dstChainName  = lookup("IBC_VERIFY_LIVE_DST_CHAIN", "chainmain")
	srcChannel    = lookup("IBC_VERIFY_LIVE_SRC_CHANNEL", "channel-0")
	dstChannel    = lookup("IBC_VERIFY_LIVE_DST_CHANNEL", "channel-0")
	connectionID  = lookup("IBC_VERIFY_LIVE_CONNECTION", "connection-0")
	srcKey        = lookup("IBC_VERIFY_LIVE_SRC_KEY", "signer1")
	srcAddress    = lookup("IBC_VERIFY_LIVE_SRC_ADDRESS", "")
	dstKey        = lookup("IBC_VERIFY_LIVE_DST_KEY", "signer2")
	dstAddress    = lookup("IBC_VERIFY_LIVE_DST_ADDRESS", "")
	transferDenom = lookup("IBC_VERIFY_LIVE_DENOM", "basetcro")
	feeDenom      = lookup("IBC_VERIFY_LIVE_FEE_DENOM", "ibcfee")
)

func lookup(key, fallback string) string {
	if v, found := os.LookupEnv(key); found {
		return v
	}
	return fallback
}

type live struct {
	cfg      config.Config
	src, dst scenario.Side
	env      scenario.Env
}

// connect loads IBC_VERIFY_CONFIG and connects to both ledgers. The test is
// skipped in short mode or when no config is given.
func connect(t *testing.T) live {
	t.Helper()
	if testing.Short() {
		t.Skip()
	}
	path, found := os.LookupEnv("IBC_VERIFY_CONFIG")
	if !found {
		t.Skip("IBC_VERIFY_CONFIG not set")
	}
	if srcAddress == "" || dstAddress == "" {
		t.Skip("IBC_VERIFY_LIVE_SRC_ADDRESS and IBC_VERIFY_LIVE_DST_ADDRESS are required")
	}
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	var docker cosmos.DockerAPI
	srcCfg, err := cfg.Chain(srcChainName)
	require.NoError(t, err)
	dstCfg, err := cfg.Chain(dstChainName)
	require.NoError(t, err)
	if srcCfg.DockerContainer != "" || dstCfg.DockerContainer != "" {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		require.NoError(t, err)
		t.Cleanup(func() { cli.Close() })
		docker = cli
	}

	src, err := srcCfg.Connect(ctx, log, docker)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	dst, err := dstCfg.Connect(ctx, log, docker)
	require.NoError(t, err)
	t.Cleanup(func() { dst.Close() })

	m := metrics.NewCollector()
	model, err := cfg.Model(log, m, srcCfg.Bech32Prefix)
	require.NoError(t, err)

	return live{
		cfg: cfg,
		src: scenario.Side{Chain: src, Channel: srcChannel, Signer: srcKey, Address: srcAddress},
		dst: scenario.Side{Chain: dst, Channel: dstChannel, Signer: dstKey, Address: dstAddress},
		env: scenario.Env{Poller: cfg.Poller(log, m), Model: model, Log: log},
	}
}
