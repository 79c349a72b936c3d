package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe is a closed enumeration of candle cadences. Each label maps to a
// fixed bucket width; unknown labels are rejected at config load, not at
// fetch time.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TimeframeM1:  time.Minute,
	TimeframeM5:  5 * time.Minute,
	TimeframeM15: 15 * time.Minute,
	TimeframeM30: 30 * time.Minute,
	TimeframeH1:  time.Hour,
	TimeframeH4:  4 * time.Hour,
	TimeframeD1:  24 * time.Hour,
}

// ParseTimeframe returns the normalized timeframe for a label.
func ParseTimeframe(input string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(input)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe: %q", input)
	}
	return tf, nil
}

// SupportedTimeframes returns all known labels, sorted by bucket width.
func SupportedTimeframes() []Timeframe {
	out := make([]Timeframe, 0, len(timeframeDurations))
	for tf := range timeframeDurations {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool {
		return timeframeDurations[out[i]] < timeframeDurations[out[j]]
	})
	return out
}

func (tf Timeframe) String() string { return string(tf) }

// Duration returns the fixed bucket width of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// AlignDown truncates t (in UTC) to the most recent cadence boundary.
func (tf Timeframe) AlignDown(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// AlignUp rounds t (in UTC) up to the next cadence boundary. Already-aligned
// instants are returned unchanged.
func (tf Timeframe) AlignUp(t time.Time) time.Time {
	down := tf.AlignDown(t)
	if down.Equal(t.UTC()) {
		return down
	}
	return down.Add(tf.Duration())
}

// IsAligned reports whether t falls exactly on a cadence boundary.
func (tf Timeframe) IsAligned(t time.Time) bool {
	return tf.AlignDown(t).Equal(t.UTC())
}

// SlotsIn counts the cadence-aligned timestamps inside [from, to], both ends
// inclusive.
func (tf Timeframe) SlotsIn(from, to time.Time) int64 {
	start := tf.AlignUp(from)
	end := tf.AlignDown(to)
	if end.Before(start) {
		return 0
	}
	return int64(end.Sub(start)/tf.Duration()) + 1
}
