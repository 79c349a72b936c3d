package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AzharJacobs/MT5/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

const maxKlinesPerRequest = 1000

// intervals maps collector timeframes onto Binance kline intervals.
var intervals = map[market.Timeframe]string{
	market.TimeframeM1:  "1m",
	market.TimeframeM5:  "5m",
	market.TimeframeM15: "15m",
	market.TimeframeM30: "30m",
	market.TimeframeH1:  "1h",
	market.TimeframeH4:  "4h",
	market.TimeframeD1:  "1d",
}

// Source implements market.Source on the Binance spot REST API via the
// go-binance SDK. Useful for running the collector against a venue with no
// MT5 bridge; candle volume maps to the trade count so the stored series
// keeps tick-count semantics.
type Source struct {
	cfg    Config
	client *binance.Client
}

type Config struct {
	RESTBaseURL string
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	c.RESTBaseURL = strings.TrimSpace(c.RESTBaseURL)
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := binance.NewClient("", "")
	if final.RESTBaseURL != "" {
		client.BaseURL = final.RESTBaseURL
	}
	client.HTTPClient = &http.Client{Timeout: final.Timeout}
	return &Source{cfg: final, client: client}, nil
}

// Connect validates the REST endpoint. Binance needs no session, so a ping
// doubles as the handshake and repeat calls are free.
func (s *Source) Connect(ctx context.Context) error {
	if err := s.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	return nil
}

func (s *Source) IsHealthy(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.NewPingService().Do(hctx) == nil
}

// FetchCandles pages through the kline endpoint until the window [from, to]
// is covered. Results come back ascending.
func (s *Source) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("binance: symbol is required")
	}
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("binance: unsupported timeframe %s", tf)
	}

	var out []market.Candle
	startMs := from.UTC().UnixMilli()
	endMs := to.UTC().UnixMilli()
	for startMs <= endMs {
		kls, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(startMs).
			EndTime(endMs).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		if len(kls) == 0 {
			break
		}
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			c, err := toCandle(symbol, tf, kl)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		last := kls[len(kls)-1].OpenTime
		if len(kls) < maxKlinesPerRequest {
			break
		}
		startMs = last + tf.Duration().Milliseconds()
	}
	return out, nil
}

func (s *Source) Close() error { return nil }

func toCandle(symbol string, tf market.Timeframe, kl *binance.Kline) (market.Candle, error) {
	open, err := decimal.NewFromString(kl.Open)
	if err != nil {
		return market.Candle{}, fmt.Errorf("binance kline open %q: %w", kl.Open, err)
	}
	high, err := decimal.NewFromString(kl.High)
	if err != nil {
		return market.Candle{}, fmt.Errorf("binance kline high %q: %w", kl.High, err)
	}
	low, err := decimal.NewFromString(kl.Low)
	if err != nil {
		return market.Candle{}, fmt.Errorf("binance kline low %q: %w", kl.Low, err)
	}
	closePx, err := decimal.NewFromString(kl.Close)
	if err != nil {
		return market.Candle{}, fmt.Errorf("binance kline close %q: %w", kl.Close, err)
	}
	return market.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: time.UnixMilli(kl.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    kl.TradeNum,
	}, nil
}
