package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults and validates the
// result. Validation fails fast: a misspelled timeframe label aborts
// startup instead of surfacing mid-collection.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const (
	defaultLogLevel          = "info"
	defaultHTTPAddr          = ":8870"
	defaultSourceName        = "mt5"
	defaultMT5Bridge         = "http://127.0.0.1:6542"
	defaultStorePath         = "data/candles.db"
	defaultTickSeconds       = 60
	defaultLookbackDays      = 365
	defaultGapRepairEvery    = 10
	defaultGapLookbackDays   = 30
	defaultMaxReconnects     = 5
	defaultReconnectDelaySec = 10
	defaultFetchTimeoutSec   = 30
	defaultMaxConcurrent     = 4
	defaultMaxSlotsPerFetch  = 5000
	defaultGatewayTimeoutSec = 15
)

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultHTTPAddr
	}
	if c.Source.Name == "" {
		c.Source.Name = defaultSourceName
	}
	if c.Source.MT5.BridgeURL == "" {
		c.Source.MT5.BridgeURL = defaultMT5Bridge
	}
	if c.Source.MT5.TimeoutSeconds <= 0 {
		c.Source.MT5.TimeoutSeconds = defaultGatewayTimeoutSec
	}
	if c.Source.Binance.TimeoutSeconds <= 0 {
		c.Source.Binance.TimeoutSeconds = defaultGatewayTimeoutSec
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}

	col := &c.Collector
	if len(col.Symbols) == 0 {
		col.Symbols = []string{"US30", "USTech"}
	}
	if len(col.Timeframes) == 0 {
		col.Timeframes = []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1"}
	}
	if col.TickIntervalSeconds <= 0 {
		col.TickIntervalSeconds = defaultTickSeconds
	}
	if col.HistoricalLookbackDays <= 0 {
		col.HistoricalLookbackDays = defaultLookbackDays
	}
	if col.GapRepairEvery <= 0 {
		col.GapRepairEvery = defaultGapRepairEvery
	}
	if col.GapRepairLookbackDays <= 0 {
		col.GapRepairLookbackDays = defaultGapLookbackDays
	}
	if col.MaxReconnectAttempts <= 0 {
		col.MaxReconnectAttempts = defaultMaxReconnects
	}
	if col.ReconnectDelaySeconds <= 0 {
		col.ReconnectDelaySeconds = defaultReconnectDelaySec
	}
	if col.FetchTimeoutSeconds <= 0 {
		col.FetchTimeoutSeconds = defaultFetchTimeoutSec
	}
	if col.MaxConcurrentPairs <= 0 {
		col.MaxConcurrentPairs = defaultMaxConcurrent
	}
	if col.MaxSlotsPerFetchRequest <= 0 {
		col.MaxSlotsPerFetchRequest = defaultMaxSlotsPerFetch
	}
}
