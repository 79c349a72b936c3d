package config

import (
	"time"

	"github.com/AzharJacobs/MT5/internal/market"
)

// Config is the full configuration surface of the collector service.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Source    SourceConfig    `mapstructure:"source"`
	Store     StoreConfig     `mapstructure:"store"`
	Collector CollectorConfig `mapstructure:"collector"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// SourceConfig selects and parameterizes the upstream market-data gateway.
type SourceConfig struct {
	Name    string        `mapstructure:"name"` // "mt5" | "binance"
	MT5     MT5Config     `mapstructure:"mt5"`
	Binance BinanceConfig `mapstructure:"binance"`
}

// MT5Config points at the MT5 terminal HTTP bridge. Login credentials are
// forwarded to the bridge on connect; the session handshake itself lives
// behind the bridge.
type MT5Config struct {
	BridgeURL      string `mapstructure:"bridge_url"`
	Login          int64  `mapstructure:"login"`
	Password       string `mapstructure:"password"`
	Server         string `mapstructure:"server"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BinanceConfig struct {
	RESTBaseURL    string `mapstructure:"rest_base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type CollectorConfig struct {
	Symbols                 []string `mapstructure:"symbols"`
	Timeframes              []string `mapstructure:"timeframes"`
	TickIntervalSeconds     int      `mapstructure:"tick_interval_seconds"`
	HistoricalLookbackDays  int      `mapstructure:"historical_lookback_days"`
	GapRepairEvery          int      `mapstructure:"gap_repair_every"`
	GapRepairLookbackDays   int      `mapstructure:"gap_repair_lookback_days"`
	MaxReconnectAttempts    int      `mapstructure:"max_reconnect_attempts"`
	ReconnectDelaySeconds   int      `mapstructure:"reconnect_delay_seconds"`
	FetchTimeoutSeconds     int      `mapstructure:"fetch_timeout_seconds"`
	MaxConcurrentPairs      int      `mapstructure:"max_concurrent_pairs"`
	MaxSlotsPerFetchRequest int64    `mapstructure:"max_slots_per_fetch"`
}

// Pairs expands the symbol and timeframe sets into the cross product the
// engine collects. Timeframe labels were validated at load time.
func (c CollectorConfig) Pairs() []market.Pair {
	out := make([]market.Pair, 0, len(c.Symbols)*len(c.Timeframes))
	for _, sym := range c.Symbols {
		for _, tf := range c.Timeframes {
			parsed, err := market.ParseTimeframe(tf)
			if err != nil {
				continue
			}
			out = append(out, market.Pair{Symbol: sym, Timeframe: parsed})
		}
	}
	return out
}

func (c CollectorConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c CollectorConfig) HistoricalLookback() time.Duration {
	return time.Duration(c.HistoricalLookbackDays) * 24 * time.Hour
}

func (c CollectorConfig) GapRepairLookback() time.Duration {
	return time.Duration(c.GapRepairLookbackDays) * 24 * time.Hour
}

func (c CollectorConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

func (c CollectorConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (m MT5Config) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func (b BinanceConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}
