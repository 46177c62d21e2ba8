// Package config loads the verifier configuration from a yaml file, an optional
// .env file and IBC_VERIFY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ignite/cli/ignite/pkg/cosmosaccount"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/dymensionxyz/ibc-convergence/cosmos"
	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/metrics"
	"github.com/dymensionxyz/ibc-convergence/reconcile"
	"github.com/dymensionxyz/ibc-convergence/testutil"
)

const envPrefix = "IBC_VERIFY_"

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Poll      PollConfig      `yaml:"poll"`
	Chains    []ChainConfig   `yaml:"chains"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type PollConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
	ErrorPolicy string        `yaml:"error_policy"`
}

type ChainConfig struct {
	Name            string                       `yaml:"name"`
	ChainID         string                       `yaml:"chain_id"`
	GRPC            string                       `yaml:"grpc"`
	RPC             string                       `yaml:"rpc"`
	Bin             string                       `yaml:"bin"`
	Home            string                       `yaml:"home"`
	Node            string                       `yaml:"node"`
	Bech32Prefix    string                       `yaml:"bech32_prefix"`
	Denom           string                       `yaml:"denom"`
	GasPrices       string                       `yaml:"gas_prices"`
	GasAdjustment   float64                      `yaml:"gas_adjustment"`
	KeyringBackend  cosmosaccount.KeyringBackend `yaml:"keyring_backend"`
	DockerContainer string                       `yaml:"docker_container"`
}

type ReconcileConfig struct {
	// Relayer and RelayerCaller accept bech32 or 0x addresses.
	Relayer       string `yaml:"relayer"`
	RelayerCaller string `yaml:"relayer_caller"`
	SplitPolicy   string `yaml:"split_policy"`
	EscrowPolicy  string `yaml:"escrow_policy"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads path, then .env next to the working directory, then the environment.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		dat, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(dat, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, found := os.LookupEnv(envPrefix + "LOG_LEVEL"); found {
		c.LogLevel = v
	}
	if v, found := os.LookupEnv(envPrefix + "POLL_TIMEOUT"); found {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_TIMEOUT: %w", envPrefix, err)
		}
		c.Poll.Timeout = d
	}
	if v, found := os.LookupEnv(envPrefix + "POLL_INTERVAL"); found {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", envPrefix, err)
		}
		c.Poll.Interval = d
	}
	if v, found := os.LookupEnv(envPrefix + "ERROR_POLICY"); found {
		c.Poll.ErrorPolicy = v
	}
	if v, found := os.LookupEnv(envPrefix + "RELAYER"); found {
		c.Reconcile.Relayer = v
	}
	if v, found := os.LookupEnv(envPrefix + "RELAYER_CALLER"); found {
		c.Reconcile.RelayerCaller = v
	}
	if v, found := os.LookupEnv(envPrefix + "METRICS_LISTEN"); found {
		c.Metrics.Listen = v
	}
	return nil
}

func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = testutil.DefaultTimeout
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = testutil.DefaultInterval
	}
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.Name == "" {
			ch.Name = ch.ChainID
		}
		if ch.KeyringBackend == "" {
			ch.KeyringBackend = cosmosaccount.KeyringTest
		}
		if ch.GasAdjustment == 0 {
			ch.GasAdjustment = 1.5
		}
	}
}

func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Poll.Timeout <= 0 || c.Poll.Interval <= 0 {
		return fmt.Errorf("poll timeout and interval must be positive")
	}
	if c.Poll.Interval > c.Poll.Timeout {
		return fmt.Errorf("poll interval %s exceeds timeout %s", c.Poll.Interval, c.Poll.Timeout)
	}
	if _, err := testutil.ParseErrorPolicy(c.Poll.ErrorPolicy); err != nil {
		return err
	}
	if _, err := reconcile.ParseSplitPolicy(c.Reconcile.SplitPolicy); err != nil {
		return err
	}
	if _, err := reconcile.ParseEscrowPolicy(c.Reconcile.EscrowPolicy); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %q: %w", ch.Name, err)
		}
		if seen[ch.Name] {
			return fmt.Errorf("chain %q configured twice", ch.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

func (c ChainConfig) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if c.Bech32Prefix == "" {
		return fmt.Errorf("bech32_prefix is required")
	}
	if c.GRPC == "" && c.DockerContainer == "" {
		return fmt.Errorf("either grpc or docker_container is required")
	}
	switch c.KeyringBackend {
	case cosmosaccount.KeyringTest, cosmosaccount.KeyringOS, cosmosaccount.KeyringMemory:
	default:
		return fmt.Errorf("unsupported keyring_backend %q", c.KeyringBackend)
	}
	return nil
}

// Chain returns the chain configured under name.
func (c Config) Chain(name string) (ChainConfig, error) {
	for _, ch := range c.Chains {
		if ch.Name == name || ch.ChainID == name {
			return ch, nil
		}
	}
	names := make([]string, len(c.Chains))
	for i, ch := range c.Chains {
		names[i] = ch.Name
	}
	return ChainConfig{}, fmt.Errorf("chain %q not configured (have %s)", name, strings.Join(names, ", "))
}

// IBC is the ledger description used by the clients.
func (c ChainConfig) IBC() ibc.ChainConfig {
	return ibc.ChainConfig{
		Name:           c.Name,
		ChainID:        c.ChainID,
		Bin:            c.Bin,
		Home:           c.Home,
		Node:           c.Node,
		Bech32Prefix:   c.Bech32Prefix,
		Denom:          c.Denom,
		GasPrices:      c.GasPrices,
		GasAdjustment:  c.GasAdjustment,
		KeyringBackend: string(c.KeyringBackend),
	}
}

// Logger builds a production logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Poller returns the configured poller.
func (c Config) Poller(log *zap.Logger, m *metrics.Collector) testutil.Poller {
	policy, _ := testutil.ParseErrorPolicy(c.Poll.ErrorPolicy)
	return testutil.Poller{
		Timeout:     c.Poll.Timeout,
		Interval:    c.Poll.Interval,
		ErrorPolicy: policy,
		Logger:      log,
		Metrics:     m,
	}
}

// Model returns the reconciliation model, with the relayer addresses
// normalized to bech32 with prefix.
func (c Config) Model(log *zap.Logger, m *metrics.Collector, prefix string) (reconcile.Model, error) {
	split, err := reconcile.ParseSplitPolicy(c.Reconcile.SplitPolicy)
	if err != nil {
		return reconcile.Model{}, err
	}
	escrow, err := reconcile.ParseEscrowPolicy(c.Reconcile.EscrowPolicy)
	if err != nil {
		return reconcile.Model{}, err
	}
	model := reconcile.Model{Split: split, Escrow: escrow, Logger: log, Metrics: m}
	if c.Reconcile.Relayer != "" {
		if model.Relayer, err = cosmos.NormalizeAddress(prefix, c.Reconcile.Relayer); err != nil {
			return reconcile.Model{}, fmt.Errorf("relayer: %w", err)
		}
	}
	if c.Reconcile.RelayerCaller != "" {
		if model.RelayerCaller, err = cosmos.NormalizeAddress(prefix, c.Reconcile.RelayerCaller); err != nil {
			return reconcile.Model{}, fmt.Errorf("relayer_caller: %w", err)
		}
	}
	return model, nil
}
