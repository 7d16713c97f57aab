package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"vesu-liquidator/internal/logging"
	"vesu-liquidator/internal/position"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Ethereum     EthereumConfig     `mapstructure:"ethereum"`
	Liquidation  LiquidationConfig  `mapstructure:"liquidation"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	Indexer      IndexerConfig      `mapstructure:"indexer"`
	Assets       []AssetConfig      `mapstructure:"assets"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// StorageConfig selects where position snapshots live.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	JSONPath string `mapstructure:"json_path"`
}

// EthereumConfig covers on-chain access and the signing account.
type EthereumConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	ChainID          int64         `mapstructure:"chain_id"`
	PrivateKey       string        `mapstructure:"private_key"`
	SingletonAddress string        `mapstructure:"singleton_address"`
	MulticallAddress string        `mapstructure:"multicall_address"`
	GasBufferPct     int64         `mapstructure:"gas_buffer_pct"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// LiquidationConfig is the protocol configuration of the liquidator.
type LiquidationConfig struct {
	Mode             string `mapstructure:"mode"`
	LiquidateAddress string `mapstructure:"liquidate_address"`
	MinProfit        string `mapstructure:"min_profit"`
}

// MonitoringConfig governs the sweep cadence and failure policy.
type MonitoringConfig struct {
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	IsolateFailures bool          `mapstructure:"isolate_failures"`
}

// ConfirmationConfig tunes transaction receipt polling.
type ConfirmationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// OracleConfig captures the price API.
type OracleConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Quote           string        `mapstructure:"quote"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// IndexerConfig tunes position discovery.
type IndexerConfig struct {
	StartBlock    uint64        `mapstructure:"start_block"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     uint64        `mapstructure:"batch_size"`
	Confirmations uint64        `mapstructure:"confirmations"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	Buffer        int           `mapstructure:"buffer"`
}

// AssetConfig describes a token the liquidator understands.
type AssetConfig struct {
	Name     string `mapstructure:"name"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// MetricsConfig exposes prometheus metrics.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig routes liquidation notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIQUIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vesu-liquidator")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x76657375))

	v.SetDefault("storage.backend", "json")
	v.SetDefault("storage.json_path", "data/positions.json")

	v.SetDefault("ethereum.chain_id", 1)
	v.SetDefault("ethereum.multicall_address", "0xcA11bde05977b3631167028862bE2a173976CA11")
	v.SetDefault("ethereum.gas_buffer_pct", 20)
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("liquidation.mode", "full")
	v.SetDefault("liquidation.min_profit", "0")

	v.SetDefault("monitoring.check_interval", "10s")
	v.SetDefault("monitoring.isolate_failures", false)

	v.SetDefault("confirmation.poll_interval", "2s")
	v.SetDefault("confirmation.max_attempts", 60)

	v.SetDefault("oracle.quote", "usd")
	v.SetDefault("oracle.refresh_interval", "30s")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "vesu-liquidator/1.0")

	v.SetDefault("indexer.poll_interval", "5s")
	v.SetDefault("indexer.batch_size", 2000)
	v.SetDefault("indexer.confirmations", 2)
	v.SetDefault("indexer.rate_limit", 10.0)
	v.SetDefault("indexer.buffer", 256)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.window", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Decimal and
// enum settings are parsed here so malformed values fail at startup.
func (c *Config) Validate() error {
	if c.Monitoring.CheckInterval <= 0 {
		return fmt.Errorf("monitoring.check_interval must be greater than zero")
	}
	if _, err := c.LiquidationMode(); err != nil {
		return fmt.Errorf("liquidation.mode: %w", err)
	}
	if _, err := c.MinProfit(); err != nil {
		return fmt.Errorf("liquidation.min_profit: %w", err)
	}
	if addr := c.Liquidation.LiquidateAddress; addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("liquidation.liquidate_address is not a valid address")
	}
	if addr := c.Ethereum.SingletonAddress; addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("ethereum.singleton_address is not a valid address")
	}
	if addr := c.Ethereum.MulticallAddress; addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("ethereum.multicall_address is not a valid address")
	}
	if c.Ethereum.ChainID <= 0 {
		return fmt.Errorf("ethereum.chain_id must be greater than zero")
	}
	if c.Confirmation.MaxAttempts <= 0 {
		return fmt.Errorf("confirmation.max_attempts must be greater than zero")
	}
	if c.Confirmation.PollInterval <= 0 {
		return fmt.Errorf("confirmation.poll_interval must be greater than zero")
	}
	if c.Oracle.RefreshInterval <= 0 {
		return fmt.Errorf("oracle.refresh_interval must be greater than zero")
	}
	if c.Indexer.BatchSize == 0 {
		return fmt.Errorf("indexer.batch_size must be greater than zero")
	}
	if c.Indexer.RateLimit < 0 {
		return fmt.Errorf("indexer.rate_limit cannot be negative")
	}
	if c.Indexer.Buffer < 0 {
		return fmt.Errorf("indexer.buffer cannot be negative")
	}
	switch c.Storage.Backend {
	case "json":
		if c.Storage.JSONPath == "" {
			return fmt.Errorf("storage.json_path is required for the json backend")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be json or postgres, got %q", c.Storage.Backend)
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		if asset.Name == "" {
			return fmt.Errorf("assets[%d].name is required", i)
		}
		if !common.IsHexAddress(asset.Address) {
			return fmt.Errorf("assets[%d].address is not a valid address", i)
		}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return fmt.Errorf("assets[%d].decimals out of range", i)
		}
		key := strings.ToLower(asset.Address)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("assets[%d].address duplicated", i)
		}
		seen[key] = struct{}{}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ValidateRun adds the checks only the long-running service needs on top of Validate.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Liquidation.LiquidateAddress == "" {
		return fmt.Errorf("liquidation.liquidate_address is required to run")
	}
	if c.Ethereum.SingletonAddress == "" {
		return fmt.Errorf("ethereum.singleton_address is required to run")
	}
	return nil
}

// LiquidationMode parses liquidation.mode.
func (c *Config) LiquidationMode() (position.LiquidationMode, error) {
	return position.ParseLiquidationMode(c.Liquidation.Mode)
}

// MinProfit parses liquidation.min_profit as an exact decimal.
func (c *Config) MinProfit() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(c.Liquidation.MinProfit))
}

// LiquidateAddress returns the liquidation contract address.
func (c *Config) LiquidateAddress() common.Address {
	return common.HexToAddress(c.Liquidation.LiquidateAddress)
}

// AssetNames lists configured asset names for price refreshes.
func (c *Config) AssetNames() []string {
	names := make([]string, 0, len(c.Assets))
	for _, asset := range c.Assets {
		names = append(names, asset.Name)
	}
	return names
}

// ResolveWindow returns either the CLI override or config default.
func (c *Config) ResolveWindow(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return c.Export.Window
}
