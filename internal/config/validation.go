package config

import (
	"fmt"
	"strings"

	"github.com/AzharJacobs/MT5/internal/market"
)

func validate(c *Config) error {
	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.Collector.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Name)) {
	case "mt5":
		if strings.TrimSpace(s.MT5.BridgeURL) == "" {
			return fmt.Errorf("source.mt5.bridge_url is required")
		}
	case "binance":
		// REST base URL has an SDK default.
	default:
		return fmt.Errorf("unsupported market source: %q", s.Name)
	}
	return nil
}

func (c *CollectorConfig) validate() error {
	for _, sym := range c.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("collector.symbols contains an empty symbol")
		}
	}
	for _, tf := range c.Timeframes {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("collector.timeframes: %w", err)
		}
	}
	if c.GapRepairEvery < 1 {
		return fmt.Errorf("collector.gap_repair_every must be >= 1")
	}
	if c.GapRepairLookbackDays > c.HistoricalLookbackDays {
		return fmt.Errorf("collector.gap_repair_lookback_days (%d) exceeds historical_lookback_days (%d)",
			c.GapRepairLookbackDays, c.HistoricalLookbackDays)
	}
	return nil
}
