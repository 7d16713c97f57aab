package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesu-liquidator/internal/position"
)

const sampleConfig = `
liquidation:
  mode: partial
  min_profit: "0.0125"
  liquidate_address: "0x00000000000000000000000000000000000000aa"
monitoring:
  check_interval: 3s
assets:
  - name: ETH
    address: "0x0000000000000000000000000000000000000e7e"
    decimals: 18
  - name: USDC
    address: "0x0000000000000000000000000000000000000d5c"
    decimals: 6
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Monitoring.CheckInterval)
	assert.False(t, cfg.Monitoring.IsolateFailures)
	assert.Equal(t, "json", cfg.Storage.Backend)
	assert.Equal(t, 60, cfg.Confirmation.MaxAttempts)
	assert.Equal(t, []string{"ETH", "USDC"}, cfg.AssetNames())

	mode, err := cfg.LiquidationMode()
	require.NoError(t, err)
	assert.Equal(t, position.Partial, mode)

	minProfit, err := cfg.MinProfit()
	require.NoError(t, err)
	assert.True(t, minProfit.Equal(decimal.RequireFromString("0.0125")))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LIQUIDATOR_MONITORING_CHECK_INTERVAL", "45s")
	t.Setenv("LIQUIDATOR_LIQUIDATION_MODE", "full")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Monitoring.CheckInterval)
	mode, _ := cfg.LiquidationMode()
	assert.Equal(t, position.Full, mode)
}

func validConfig() Config {
	return Config{
		Storage:      StorageConfig{Backend: "json", JSONPath: "positions.json"},
		Ethereum:     EthereumConfig{ChainID: 1},
		Liquidation:  LiquidationConfig{Mode: "full", MinProfit: "0"},
		Monitoring:   MonitoringConfig{CheckInterval: time.Second},
		Confirmation: ConfirmationConfig{PollInterval: time.Second, MaxAttempts: 1},
		Oracle:       OracleConfig{RefreshInterval: time.Second},
		Indexer:      IndexerConfig{BatchSize: 10},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero interval", func(c *Config) { c.Monitoring.CheckInterval = 0 }},
		{"unknown mode", func(c *Config) { c.Liquidation.Mode = "half" }},
		{"bad min profit", func(c *Config) { c.Liquidation.MinProfit = "lots" }},
		{"bad liquidate address", func(c *Config) { c.Liquidation.LiquidateAddress = "0x123" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"asset without name", func(c *Config) {
			c.Assets = []AssetConfig{{Address: "0x0000000000000000000000000000000000000e7e"}}
		}},
		{"duplicate asset", func(c *Config) {
			c.Assets = []AssetConfig{
				{Name: "ETH", Address: "0x0000000000000000000000000000000000000e7e"},
				{Name: "WETH", Address: "0x0000000000000000000000000000000000000E7E"},
			}
		}},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
		{"negative buffer", func(c *Config) { c.Indexer.Buffer = -1 }},
	}

	base := validConfig()
	require.NoError(t, base.Validate())

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRunRequiresContracts(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.ErrorContains(t, cfg.ValidateRun(), "liquidation.liquidate_address")

	cfg.Liquidation.LiquidateAddress = "0x00000000000000000000000000000000000000aa"
	assert.ErrorContains(t, cfg.ValidateRun(), "ethereum.singleton_address")

	cfg.Ethereum.SingletonAddress = "0x00000000000000000000000000000000000000bb"
	require.NoError(t, cfg.ValidateRun())

	cfg.Indexer.Buffer = -1
	assert.ErrorContains(t, cfg.ValidateRun(), "indexer.buffer")
}

func TestResolveWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Export.Window = 24 * time.Hour
	assert.Equal(t, 24*time.Hour, cfg.ResolveWindow(0))
	assert.Equal(t, time.Hour, cfg.ResolveWindow(time.Hour))
}
