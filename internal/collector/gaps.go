package collector

import (
	"fmt"
	"time"

	"github.com/AzharJacobs/MT5/internal/market"
)

// FindGaps computes the maximal runs of cadence-aligned timestamps in
// [rangeStart, rangeEnd] (both ends inclusive) that are absent from present.
// present is keyed by Unix seconds of the candle-open instant.
//
// The calculation is purely calendar-driven: market-closed periods show up
// as gaps too. Deciding whether a gap is a genuine hole or a closed session
// is the engine's job, after a re-fetch comes back empty.
func FindGaps(tf market.Timeframe, rangeStart, rangeEnd time.Time, present map[int64]struct{}) ([]market.Gap, error) {
	if rangeStart.After(rangeEnd) {
		return nil, fmt.Errorf("gap range start %s after end %s", rangeStart.UTC().Format(time.RFC3339), rangeEnd.UTC().Format(time.RFC3339))
	}
	step := tf.Duration()
	first := tf.AlignUp(rangeStart)
	last := tf.AlignDown(rangeEnd)
	if last.Before(first) {
		return nil, nil
	}

	var gaps []market.Gap
	var runStart time.Time
	inRun := false
	for slot := first; !slot.After(last); slot = slot.Add(step) {
		_, have := present[slot.Unix()]
		switch {
		case !have && !inRun:
			runStart = slot
			inRun = true
		case have && inRun:
			gaps = append(gaps, market.Gap{Start: runStart, End: slot.Add(-step)})
			inRun = false
		}
	}
	if inRun {
		gaps = append(gaps, market.Gap{Start: runStart, End: last})
	}
	return gaps, nil
}

// PresentSet converts a sorted timestamp listing into the lookup form
// FindGaps consumes.
func PresentSet(stamps []time.Time) map[int64]struct{} {
	out := make(map[int64]struct{}, len(stamps))
	for _, ts := range stamps {
		out[ts.UTC().Unix()] = struct{}{}
	}
	return out
}
