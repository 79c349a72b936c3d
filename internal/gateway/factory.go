package gateway

import (
	"fmt"
	"strings"

	"github.com/AzharJacobs/MT5/internal/config"
	"github.com/AzharJacobs/MT5/internal/gateway/binance"
	"github.com/AzharJacobs/MT5/internal/gateway/mt5"
	"github.com/AzharJacobs/MT5/internal/market"
)

// NewSourceFromConfig builds the configured upstream gateway.
func NewSourceFromConfig(cfg *config.Config) (market.Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Source.Name)) {
	case "", "mt5":
		return mt5.New(mt5.Config{
			BridgeURL: cfg.Source.MT5.BridgeURL,
			Login:     cfg.Source.MT5.Login,
			Password:  cfg.Source.MT5.Password,
			Server:    cfg.Source.MT5.Server,
			Timeout:   cfg.Source.MT5.Timeout(),
		})
	case "binance":
		return binance.New(binance.Config{
			RESTBaseURL: cfg.Source.Binance.RESTBaseURL,
			Timeout:     cfg.Source.Binance.Timeout(),
		})
	default:
		return nil, fmt.Errorf("unsupported market source: %s", cfg.Source.Name)
	}
}
