package mt5

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AzharJacobs/MT5/internal/market"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Source talks to an MT5 terminal HTTP bridge. The bridge owns the terminal
// session (initialize/login/server selection); this adapter only forwards
// credentials on connect and asks for candle ranges. It performs no retries
// of its own: reconnect policy belongs to the collection engine.
type Source struct {
	cfg    Config
	client *http.Client

	mu        sync.Mutex
	connected bool
}

// Config parameterizes the bridge connection.
type Config struct {
	BridgeURL string
	Login     int64
	Password  string
	Server    string
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	c.BridgeURL = strings.TrimRight(strings.TrimSpace(c.BridgeURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if final.BridgeURL == "" {
		return nil, fmt.Errorf("mt5: bridge url is required")
	}
	return &Source{
		cfg:    final,
		client: &http.Client{Timeout: final.Timeout},
	}, nil
}

// Connect asks the bridge to establish (or confirm) the terminal session.
// Safe to call when already connected; the bridge treats it as a no-op.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	form := url.Values{}
	form.Set("login", strconv.FormatInt(s.cfg.Login, 10))
	form.Set("password", s.cfg.Password)
	form.Set("server", s.cfg.Server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BridgeURL+"/connect", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := s.do(req)
	if err != nil {
		s.connected = false
		return fmt.Errorf("mt5 connect: %w", err)
	}
	if !gjson.GetBytes(body, "connected").Bool() {
		s.connected = false
		reason := gjson.GetBytes(body, "error").String()
		if reason == "" {
			reason = "bridge refused session"
		}
		return fmt.Errorf("mt5 connect: %s", reason)
	}
	s.connected = true
	return nil
}

// IsHealthy probes the bridge terminal state with a short deadline.
func (s *Source) IsHealthy(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, s.cfg.BridgeURL+"/health", nil)
	if err != nil {
		return false
	}
	body, err := s.do(req)
	if err != nil {
		return false
	}
	return gjson.GetBytes(body, "connected").Bool()
}

// FetchCandles requests candles for [from, to], both Unix seconds on the
// bridge side. The bridge mirrors MT5 copy_rates_range semantics: candles
// come back ascending, tick_volume carries the volume field, and an empty
// array is a legitimate answer for closed-market windows.
func (s *Source) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("mt5: symbol is required")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", string(tf))
	q.Set("from", strconv.FormatInt(from.UTC().Unix(), 10))
	q.Set("to", strconv.FormatInt(to.UTC().Unix(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BridgeURL+"/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("mt5 fetch %s %s: %w", symbol, tf, err)
	}
	if errMsg := gjson.GetBytes(body, "error").String(); errMsg != "" {
		return nil, fmt.Errorf("mt5 fetch %s %s: %s", symbol, tf, errMsg)
	}

	rates := gjson.GetBytes(body, "candles")
	out := make([]market.Candle, 0, len(rates.Array()))
	rates.ForEach(func(_, r gjson.Result) bool {
		out = append(out, market.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: time.Unix(r.Get("time").Int(), 0).UTC(),
			Open:      decimal.NewFromFloat(r.Get("open").Float()),
			High:      decimal.NewFromFloat(r.Get("high").Float()),
			Low:       decimal.NewFromFloat(r.Get("low").Float()),
			Close:     decimal.NewFromFloat(r.Get("close").Float()),
			Volume:    r.Get("tick_volume").Int(),
		})
		return true
	})
	return out, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	req, err := http.NewRequest(http.MethodPost, s.cfg.BridgeURL+"/disconnect", nil)
	if err != nil {
		return err
	}
	_, err = s.do(req)
	s.connected = false
	return err
}

func (s *Source) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
