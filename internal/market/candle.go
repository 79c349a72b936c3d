package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV aggregate for an instrument over a fixed time bucket.
// Timestamp marks candle open, in UTC, aligned to the timeframe cadence.
// A candle is immutable once stored; the identity key is
// (Symbol, Timeframe, Timestamp).
type Candle struct {
	Symbol    string
	Timeframe Timeframe
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Key renders the identity triple, mainly for log context.
func (c Candle) Key() string {
	return fmt.Sprintf("%s@%s@%s", c.Symbol, c.Timeframe, c.Timestamp.UTC().Format(time.RFC3339))
}

// WellFormed reports low <= open,close <= high and a non-negative volume.
// Upstream occasionally reports edge conditions that violate this; callers
// log such candles instead of rejecting them.
func (c Candle) WellFormed() bool {
	if c.Volume < 0 {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	return true
}

// Normalize coerces the timestamp to UTC on the cadence boundary. Returned
// candle is safe to persist; the boolean reports whether the input was
// already aligned.
func (c Candle) Normalize() (Candle, bool) {
	aligned := c.Timeframe.IsAligned(c.Timestamp)
	c.Timestamp = c.Timeframe.AlignDown(c.Timestamp)
	return c, aligned
}

// Gap is a maximal run of cadence-aligned timestamps with no stored candle.
// Both ends are inclusive slot timestamps.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Slots counts the missing cadence slots covered by the gap.
func (g Gap) Slots(tf Timeframe) int64 {
	return tf.SlotsIn(g.Start, g.End)
}
