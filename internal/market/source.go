package market

import (
	"context"
	"time"
)

// Pair identifies one (symbol, timeframe) collection stream.
type Pair struct {
	Symbol    string
	Timeframe Timeframe
}

func (p Pair) String() string { return p.Symbol + "@" + string(p.Timeframe) }

// Source is a single logical connection to an upstream market-data provider.
// Implementations do not retry or reconnect on their own; that policy
// belongs to the collection engine.
type Source interface {
	// Connect establishes or validates the upstream session. Idempotent if
	// already connected.
	Connect(ctx context.Context) error

	// IsHealthy is a cheap liveness probe.
	IsHealthy(ctx context.Context) bool

	// FetchCandles returns candles whose timestamp falls in [from, to],
	// ascending. An empty result is not an error; markets close.
	FetchCandles(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]Candle, error)

	Close() error
}
