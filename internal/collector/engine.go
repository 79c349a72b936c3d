package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AzharJacobs/MT5/internal/logger"
	"github.com/AzharJacobs/MT5/internal/market"
	"github.com/AzharJacobs/MT5/internal/pkg/circuit"
	"github.com/AzharJacobs/MT5/internal/scheduler"
	"github.com/AzharJacobs/MT5/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config carries the collection parameters. Zero values fall back to the
// defaults the upstream terminal tolerates well.
type Config struct {
	Pairs              []market.Pair
	TickInterval       time.Duration
	HistoricalLookback time.Duration
	GapRepairEvery     int
	GapRepairLookback  time.Duration
	MaxReconnects      int
	ReconnectDelay     time.Duration
	FetchTimeout       time.Duration
	MaxConcurrentPairs int
	MaxSlotsPerFetch   int64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.HistoricalLookback <= 0 {
		c.HistoricalLookback = 365 * 24 * time.Hour
	}
	if c.GapRepairEvery <= 0 {
		c.GapRepairEvery = 10
	}
	if c.GapRepairLookback <= 0 {
		c.GapRepairLookback = 30 * 24 * time.Hour
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 10 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxConcurrentPairs <= 0 {
		c.MaxConcurrentPairs = 4
	}
	if c.MaxSlotsPerFetch <= 0 {
		c.MaxSlotsPerFetch = 5000
	}
	return c
}

// Engine owns the scheduling loop. Each tick it re-derives every pair's
// state from the store (watermark read), so a crash or restart never needs
// recovery logic: the next tick resumes from whatever was durably written.
type Engine struct {
	cfg     Config
	source  market.Source
	store   store.CandleStore
	events  *eventLog
	breaker *circuit.Breaker
	nowFn   func() time.Time

	// sourceMu serializes session-level operations (Connect) on the shared
	// source; FetchCandles itself must be safe for concurrent use.
	sourceMu sync.Mutex

	cycles    atomic.Int64
	lastCycle atomic.Value // string

	// resumed tracks pairs that have completed a live pass this process
	// lifetime. The first pass after a restart re-opens a wider window.
	resumed sync.Map // pair string -> struct{}
}

// New validates the pair list and builds an engine.
func New(cfg Config, src market.Source, st store.CandleStore) (*Engine, error) {
	if src == nil {
		return nil, errors.New("collector: source is required")
	}
	if st == nil {
		return nil, errors.New("collector: store is required")
	}
	cfg = cfg.withDefaults()
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("collector: at least one (symbol, timeframe) pair is required")
	}
	for _, p := range cfg.Pairs {
		if p.Symbol == "" {
			return nil, errors.New("collector: pair with empty symbol")
		}
		if _, err := market.ParseTimeframe(string(p.Timeframe)); err != nil {
			return nil, fmt.Errorf("collector: pair %s: %w", p.Symbol, err)
		}
	}
	breaker := circuit.NewBreaker("market-source", cfg.MaxReconnects,
		time.Duration(cfg.MaxReconnects)*cfg.ReconnectDelay)
	return &Engine{
		cfg:     cfg,
		source:  src,
		store:   st,
		events:  &eventLog{store: st},
		breaker: breaker,
		nowFn:   time.Now,
	}, nil
}

// Run blocks on the tick loop until ctx is cancelled. The first cycle runs
// immediately; an in-flight cycle always drains before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	tick := scheduler.NewInterval(ctx, e.cfg.TickInterval)
	tick.RunImmediately = true
	tick.Start(func() { e.RunCycle(ctx) })
	return ctx.Err()
}

// Pairs returns the configured collection pairs.
func (e *Engine) Pairs() []market.Pair {
	out := make([]market.Pair, len(e.cfg.Pairs))
	copy(out, e.cfg.Pairs)
	return out
}

// LastCycleID returns the ID of the most recently started collection pass.
func (e *Engine) LastCycleID() string {
	if v, ok := e.lastCycle.Load().(string); ok {
		return v
	}
	return ""
}

// RunCycle executes one collection pass over all pairs. Pairs run
// concurrently up to MaxConcurrentPairs; within a pair, fetch and upsert
// are strictly sequential so two writers never race on the same key range.
func (e *Engine) RunCycle(ctx context.Context) {
	tick := e.cycles.Add(1)
	cycleID := uuid.NewString()[:8]
	e.lastCycle.Store(cycleID)
	gapPass := tick%int64(e.cfg.GapRepairEvery) == 0

	logger.Infof("collection cycle %d (%s) starting, pairs=%d gap_pass=%v", tick, cycleID, len(e.cfg.Pairs), gapPass)

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrentPairs)
	for _, pair := range e.cfg.Pairs {
		pair := pair
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e.collectPair(ctx, pair, cycleID, gapPass)
			return nil
		})
	}
	_ = g.Wait()

	logger.Infof("collection cycle %d (%s) completed", tick, cycleID)
}

// collectPair never returns an error: every failure mode resolves to a log
// entry and a skipped tick for this pair only.
func (e *Engine) collectPair(ctx context.Context, pair market.Pair, cycleID string, gapPass bool) {
	now := e.nowFn().UTC()
	watermark, ok, err := e.store.LastTimestamp(ctx, pair.Symbol, pair.Timeframe)
	if err != nil {
		if ctx.Err() != nil {
			logger.Infof("[%s] watermark read interrupted by shutdown", pair)
			return
		}
		e.events.error(ctx, pair, cycleID, fmt.Sprintf("reading watermark failed: %v", err), nil)
		return
	}
	switch {
	case !ok:
		e.bootstrap(ctx, pair, cycleID, now)
	case gapPass:
		e.repairGaps(ctx, pair, cycleID, watermark, now)
	default:
		e.collectLive(ctx, pair, cycleID, watermark, now)
	}
}

// bootstrap fills [now-lookback, now] for a pair with no stored data.
// Chunks are upserted as they arrive, so a crash mid-backfill resumes from
// the stored watermark instead of starting over.
func (e *Engine) bootstrap(ctx context.Context, pair market.Pair, cycleID string, now time.Time) {
	from := now.Add(-e.cfg.HistoricalLookback)
	e.events.info(ctx, pair, cycleID,
		fmt.Sprintf("no existing data, bootstrapping from %s", from.Format(time.RFC3339)),
		map[string]any{"lookback": e.cfg.HistoricalLookback.String()})

	inserted, fetched, err := e.fetchWindow(ctx, pair, cycleID, from, now)
	if err != nil {
		if ctx.Err() != nil {
			logger.Infof("[%s] bootstrap interrupted by shutdown, resuming next start", pair)
			return
		}
		e.events.error(ctx, pair, cycleID, fmt.Sprintf("bootstrap aborted: %v", err), nil)
		return
	}
	e.events.info(ctx, pair, cycleID,
		fmt.Sprintf("bootstrap complete: %d new candles (%d fetched)", inserted, fetched),
		map[string]any{"inserted": inserted, "fetched": fetched})
}

// collectLive fetches [watermark-overlap, now]. In steady state the overlap
// is one cadence step, re-reading the candle that was still open last tick;
// the first pass after a restart widens it to a day in case the process was
// down while candles kept closing. The idempotent upsert absorbs all
// duplicate rows either way.
func (e *Engine) collectLive(ctx context.Context, pair market.Pair, cycleID string, watermark, now time.Time) {
	overlap := pair.Timeframe.Duration()
	if _, seen := e.resumed.LoadOrStore(pair.String(), struct{}{}); !seen {
		if resumeOverlap := 24 * time.Hour; resumeOverlap > overlap {
			overlap = resumeOverlap
		}
	}
	from := watermark.Add(-overlap)
	inserted, fetched, err := e.fetchWindow(ctx, pair, cycleID, from, now)
	if err != nil {
		if ctx.Err() != nil {
			logger.Infof("[%s] live collection interrupted by shutdown", pair)
			return
		}
		e.events.error(ctx, pair, cycleID, fmt.Sprintf("live collection failed: %v", err), nil)
		return
	}
	if fetched == 0 {
		// No new data yet (market closed or candle still forming).
		logger.Debugf("[%s] no new candles in window %s..%s", pair, from.Format(time.RFC3339), now.Format(time.RFC3339))
		return
	}
	if inserted > 0 {
		e.events.info(ctx, pair, cycleID,
			fmt.Sprintf("live collection: %d new candles", inserted),
			map[string]any{"inserted": inserted, "fetched": fetched})
	}
}

// repairGaps re-derives the expected slot grid over the repair window and
// refetches every missing run. A gap whose refetch comes back empty is
// accepted as a closed-market period; nothing is remembered about it, so
// it is naturally re-checked on the next repair pass.
func (e *Engine) repairGaps(ctx context.Context, pair market.Pair, cycleID string, watermark, now time.Time) {
	rangeStart := watermark.Add(-e.cfg.GapRepairLookback)
	if floor := now.Add(-e.cfg.HistoricalLookback); rangeStart.Before(floor) {
		rangeStart = floor
	}
	// The listing is half-open on the right; extend it one step past now so
	// a candle stored exactly on the current boundary is counted as present
	// instead of surfacing as a spurious one-slot gap.
	listEnd := now.Add(pair.Timeframe.Duration())
	stamps, err := e.store.ListTimestamps(ctx, pair.Symbol, pair.Timeframe, rangeStart, listEnd)
	if err != nil {
		if ctx.Err() != nil {
			logger.Infof("[%s] gap scan interrupted by shutdown", pair)
			return
		}
		e.events.error(ctx, pair, cycleID, fmt.Sprintf("gap scan failed reading store: %v", err), nil)
		return
	}
	gaps, err := FindGaps(pair.Timeframe, rangeStart, now, PresentSet(stamps))
	if err != nil {
		e.events.error(ctx, pair, cycleID, fmt.Sprintf("gap analysis failed: %v", err), nil)
		return
	}
	if len(gaps) == 0 {
		logger.Debugf("[%s] no gaps in %s..%s", pair, rangeStart.Format(time.RFC3339), now.Format(time.RFC3339))
		return
	}
	e.events.warn(ctx, pair, cycleID,
		fmt.Sprintf("detected %d gap(s) in stored history", len(gaps)),
		map[string]any{"gap_count": len(gaps), "scan_start": rangeStart.Format(time.RFC3339)})

	for _, gap := range gaps {
		if ctx.Err() != nil {
			return
		}
		inserted, fetched, err := e.fetchWindow(ctx, pair, cycleID, gap.Start, gap.End)
		if err != nil {
			if ctx.Err() != nil {
				logger.Infof("[%s] gap refetch interrupted by shutdown", pair)
				return
			}
			e.events.error(ctx, pair, cycleID,
				fmt.Sprintf("gap refetch %s..%s failed: %v", gap.Start.Format(time.RFC3339), gap.End.Format(time.RFC3339), err), nil)
			return
		}
		if fetched == 0 {
			e.events.info(ctx, pair, cycleID,
				fmt.Sprintf("gap %s..%s returned no data, accepting as closed market",
					gap.Start.Format(time.RFC3339), gap.End.Format(time.RFC3339)),
				map[string]any{"slots": gap.Slots(pair.Timeframe)})
			continue
		}
		e.events.info(ctx, pair, cycleID,
			fmt.Sprintf("gap filled: %d candles inserted", inserted),
			map[string]any{
				"gap_start": gap.Start.Format(time.RFC3339),
				"gap_end":   gap.End.Format(time.RFC3339),
				"inserted":  inserted,
			})
	}
}

// fetchWindow pulls [from, to], both ends inclusive, in slot-bounded
// chunks, normalizing and upserting each chunk before requesting the next.
// A window of a single slot (from == to) is still one fetch; gap repair
// depends on that for one-candle holes. Returns total inserted and fetched
// counts. The first failed chunk aborts the window; nothing already
// upserted is lost, and the watermark only ever reflects durable rows.
func (e *Engine) fetchWindow(ctx context.Context, pair market.Pair, cycleID string, from, to time.Time) (inserted, fetched int64, err error) {
	step := pair.Timeframe.Duration()
	chunk := time.Duration(e.cfg.MaxSlotsPerFetch) * step
	for chunkStart := from; !chunkStart.After(to); chunkStart = chunkStart.Add(chunk) {
		chunkEnd := chunkStart.Add(chunk - step)
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		candles, err := e.fetchRange(ctx, pair, chunkStart, chunkEnd)
		if err != nil {
			return inserted, fetched, err
		}
		fetched += int64(len(candles))
		if len(candles) == 0 {
			continue
		}
		batch := e.normalize(ctx, pair, cycleID, candles)
		n, err := e.store.UpsertCandles(ctx, batch)
		if err != nil {
			return inserted, fetched, fmt.Errorf("upsert failed (batch retried next tick): %w", err)
		}
		inserted += n
	}
	return inserted, fetched, nil
}

// fetchRange performs one bounded upstream request with reconnect-then-
// retry-once semantics. The circuit breaker short-circuits calls while the
// upstream is known to be down so a shared outage does not cost every pair
// a full reconnect ladder.
func (e *Engine) fetchRange(ctx context.Context, pair market.Pair, from, to time.Time) ([]market.Candle, error) {
	if !e.breaker.Allow() {
		return nil, errors.New("upstream circuit open, skipping fetch")
	}
	candles, err := e.fetchOnce(ctx, pair, from, to)
	if err == nil {
		e.breaker.RecordSuccess()
		return candles, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	logger.Warnf("[%s] fetch failed (%v), reconnecting", pair, err)
	if rerr := e.reconnect(ctx); rerr != nil {
		e.breaker.RecordFailure()
		return nil, fmt.Errorf("fetch failed and reconnect exhausted: %w", rerr)
	}
	candles, err = e.fetchOnce(ctx, pair, from, to)
	if err != nil {
		e.breaker.RecordFailure()
		return nil, err
	}
	e.breaker.RecordSuccess()
	return candles, nil
}

func (e *Engine) fetchOnce(ctx context.Context, pair market.Pair, from, to time.Time) ([]market.Candle, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	return e.source.FetchCandles(fctx, pair.Symbol, pair.Timeframe, from, to)
}

// reconnect runs the bounded retry ladder: MaxReconnects attempts with a
// fixed delay in between. Concurrent pair workers share one ladder.
func (e *Engine) reconnect(ctx context.Context) error {
	e.sourceMu.Lock()
	defer e.sourceMu.Unlock()
	if e.source.IsHealthy(ctx) {
		// Another pair already restored the session.
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxReconnects; attempt++ {
		logger.Infof("reconnection attempt %d/%d", attempt, e.cfg.MaxReconnects)
		if err := e.source.Connect(ctx); err == nil {
			logger.Infof("reconnection successful")
			return nil
		} else {
			lastErr = err
		}
		if attempt == e.cfg.MaxReconnects {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.ReconnectDelay):
		}
	}
	return fmt.Errorf("failed to reconnect after %d attempts: %w", e.cfg.MaxReconnects, lastErr)
}

// normalize coerces fetched candles onto the UTC cadence grid and flags
// malformed OHLC rows. Nothing is dropped: upstream occasionally reports
// legitimate edge conditions, so violations are logged and persisted as-is.
func (e *Engine) normalize(ctx context.Context, pair market.Pair, cycleID string, candles []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(candles))
	misaligned := 0
	malformed := 0
	for _, c := range candles {
		c.Symbol = pair.Symbol
		c.Timeframe = pair.Timeframe
		c, aligned := c.Normalize()
		if !aligned {
			misaligned++
		}
		if !c.WellFormed() {
			malformed++
			logger.Warnf("[%s] malformed candle %s: low/high bounds violated", pair, c.Key())
		}
		out = append(out, c)
	}
	if misaligned > 0 || malformed > 0 {
		e.events.warn(ctx, pair, cycleID,
			fmt.Sprintf("batch normalization: %d misaligned, %d malformed of %d", misaligned, malformed, len(candles)),
			map[string]any{"misaligned": misaligned, "malformed": malformed, "batch": len(candles)})
	}
	return out
}
