package tests

import (
	"context"
	"os"
	"testing"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dymensionxyz/ibc-convergence/config"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/metrics"
	"github.com/dymensionxyz/ibc-convergence/scenario"
	"github.com/dymensionxyz/ibc-convergence/testutil/simnet"
)

var (
	cronosConfig = ibc.ChainConfig{
		Name:         "cronos",
		ChainID:      "cronos_777-1",
		Bech32Prefix: "crc",
		Denom:        "basetcro",
		GasPrices:    "5stake",
	}

	chainMainConfig = ibc.ChainConfig{
		Name:         "chainmain",
		ChainID:      "chainmain-1",
		Bech32Prefix: "cro",
		Denom:        "basecro",
	}

	// relay interval of the simulated relayer
	relayInterval = 5 * time.Millisecond
)

// network is a running pair of simulated ledgers with a funded signer on each.
type network struct {
	net      *simnet.Network
	hub      *simnet.Ledger
	remote   *simnet.Ledger
	conn     string
	src, dst scenario.Side
	metrics  *metrics.Collector
	cfg      config.Config
}

// GetPollTimeout lets CI stretch every wait.
func GetPollTimeout() time.Duration {
	if v, found := os.LookupEnv("IBC_VERIFY_POLL_TIMEOUT"); found {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 10 * time.Second
}

func startNetwork(t *testing.T) *network {
	t.Helper()
	log := zaptest.NewLogger(t)
	n := simnet.NewNetwork(log)
	hub := n.AddLedger(cronosConfig)
	remote := n.AddLedger(chainMainConfig)
	conn, chanHub, chanRemote := n.Connect(hub, remote)
	hub.AddAccount(simnet.RelayerKey, sdk.NewInt64Coin("stake", 10_000_000))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	n.StartRelayer(ctx, relayInterval)

	cfg := config.Config{
		LogLevel: "debug",
		Poll: config.PollConfig{
			Timeout:  GetPollTimeout(),
			Interval: 10 * time.Millisecond,
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	return &network{
		net:    n,
		hub:    hub,
		remote: remote,
		conn:   conn,
		src: scenario.Side{
			Chain:   hub,
			Channel: chanHub,
			Signer:  "signer",
			Address: hub.AddAccount("signer", sdk.NewInt64Coin("basetcro", 10_000_000), sdk.NewInt64Coin("ibcfee", 1_000), sdk.NewInt64Coin("stake", 1_000_000)),
		},
		dst: scenario.Side{
			Chain:   remote,
			Channel: chanRemote,
			Signer:  "signer",
			Address: remote.AddAccount("signer"),
		},
		metrics: metrics.NewCollector(),
		cfg:     cfg,
	}
}

// env builds the scenario environment from the network's config.
func (n *network) env(t *testing.T) scenario.Env {
	t.Helper()
	log := zaptest.NewLogger(t)
	model, err := n.cfg.Model(log, n.metrics, cronosConfig.Bech32Prefix)
	require.NoError(t, err)
	return scenario.Env{
		Poller: n.cfg.Poller(log, n.metrics),
		Model:  model,
		Log:    log,
	}
}
