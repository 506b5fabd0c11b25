// Package config provides configuration management for the trading agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"oanda-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading  TradingConfig  `mapstructure:"trading"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Advisory AdvisoryConfig `mapstructure:"advisory"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TradingConfig holds control-loop configuration.
type TradingConfig struct {
	Mode               string        `mapstructure:"mode"` // "live", "paper"
	Instruments        []string      `mapstructure:"instruments"`
	CycleInterval      time.Duration `mapstructure:"cycle_interval"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	AccountCurrency    string        `mapstructure:"account_currency"`
	UseTrailingStops   bool          `mapstructure:"use_trailing_stops"`
	TrailingStopPips   float64       `mapstructure:"trailing_stop_pips"`
	CorrelationRefresh time.Duration `mapstructure:"correlation_refresh"`
}

// RiskConfig holds risk limit configuration.
type RiskConfig struct {
	MaxPositions       int           `mapstructure:"max_positions"`
	MaxRiskPerTrade    float64       `mapstructure:"max_risk_per_trade"`
	MaxAccountRisk     float64       `mapstructure:"max_account_risk"`
	MaxDrawdown        float64       `mapstructure:"max_drawdown"`
	MaxCorrelation     float64       `mapstructure:"max_correlation"`
	MaxPerSymbol       int           `mapstructure:"max_per_symbol"`
	MaxHoldingDuration time.Duration `mapstructure:"max_holding_duration"`
}

// IngestConfig holds ingestion layer configuration.
type IngestConfig struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
}

// VenueConfig holds trading venue connection configuration.
type VenueConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	StreamURL  string        `mapstructure:"stream_url"`
	APIKey     string        `mapstructure:"api_key"`
	AccountID  string        `mapstructure:"account_id"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PaperStart float64       `mapstructure:"paper_start_balance"`
}

// AdvisoryConfig holds advisory service configuration.
type AdvisoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NotifyConfig holds operator notification configuration. An empty webhook
// URL keeps notifications log-only.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "oanda-trader")
}

// Load reads configuration from the given path (or the default locations)
// with environment variable overrides under the TRADER_ prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRADER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config files fall back to defaults; parse errors do not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.instruments", []string{"EUR_USD", "GBP_USD", "USD_JPY"})
	v.SetDefault("trading.cycle_interval", time.Minute)
	v.SetDefault("trading.min_confidence", 0.7)
	v.SetDefault("trading.account_currency", "USD")
	v.SetDefault("trading.use_trailing_stops", true)
	v.SetDefault("trading.trailing_stop_pips", 50.0)
	v.SetDefault("trading.correlation_refresh", 10*time.Minute)

	v.SetDefault("risk.max_positions", 3)
	v.SetDefault("risk.max_risk_per_trade", 0.02)
	v.SetDefault("risk.max_account_risk", 0.06)
	v.SetDefault("risk.max_drawdown", 0.15)
	v.SetDefault("risk.max_correlation", 0.7)
	v.SetDefault("risk.max_per_symbol", 1)
	v.SetDefault("risk.max_holding_duration", 4*time.Hour)

	v.SetDefault("ingest.cache_ttl", 30*time.Second)
	v.SetDefault("ingest.rate_limit_requests", 100)
	v.SetDefault("ingest.rate_limit_window", time.Minute)
	v.SetDefault("ingest.breaker_threshold", 5)
	v.SetDefault("ingest.breaker_timeout", time.Minute)
	v.SetDefault("ingest.fetch_timeout", 10*time.Second)

	v.SetDefault("venue.base_url", "https://api-fxpractice.oanda.com")
	v.SetDefault("venue.stream_url", "https://stream-fxpractice.oanda.com")
	v.SetDefault("venue.timeout", 10*time.Second)
	v.SetDefault("venue.paper_start_balance", 100000.0)

	v.SetDefault("advisory.base_url", "http://localhost:8000")
	v.SetDefault("advisory.timeout", 30*time.Second)

	v.SetDefault("notify.webhook_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(DefaultConfigDir(), "logs", "trader.log"))
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("trading.mode must be \"live\" or \"paper\", got %q", c.Trading.Mode)
	}
	if len(c.Trading.Instruments) == 0 {
		return fmt.Errorf("trading.instruments must not be empty")
	}
	if c.Trading.CycleInterval <= 0 {
		return fmt.Errorf("trading.cycle_interval must be positive")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		return fmt.Errorf("trading.min_confidence must be in [0,1]")
	}
	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade >= 1 {
		return fmt.Errorf("risk.max_risk_per_trade must be in (0,1)")
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("risk.max_drawdown must be in (0,1)")
	}
	if c.Trading.Mode == "live" && (c.Venue.APIKey == "" || c.Venue.AccountID == "") {
		return fmt.Errorf("venue.api_key and venue.account_id are required in live mode")
	}
	return nil
}

// RiskLimits converts the risk section into engine limits.
func (c *Config) RiskLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxPositions:       c.Risk.MaxPositions,
		MaxRiskPerTrade:    c.Risk.MaxRiskPerTrade,
		MaxAccountRisk:     c.Risk.MaxAccountRisk,
		MaxDrawdown:        c.Risk.MaxDrawdown,
		MaxCorrelation:     c.Risk.MaxCorrelation,
		MaxPerSymbol:       c.Risk.MaxPerSymbol,
		MaxHoldingDuration: c.Risk.MaxHoldingDuration,
	}
}
