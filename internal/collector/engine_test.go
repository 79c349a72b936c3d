package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AzharJacobs/MT5/internal/market"
	"github.com/AzharJacobs/MT5/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSource) IsHealthy(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockSource) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, tf, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *MockSource) Close() error { return nil }

// MockStore records upserted candles and serves watermark reads. Log writes
// are collected for assertions instead of being persisted.
type MockStore struct {
	mock.Mock

	mu       sync.Mutex
	upserted []market.Candle
	logs     []store.LogEntry
}

func (m *MockStore) UpsertCandles(ctx context.Context, candles []market.Candle) (int64, error) {
	args := m.Called(ctx, candles)
	if args.Error(1) == nil {
		m.mu.Lock()
		m.upserted = append(m.upserted, candles...)
		m.mu.Unlock()
	}
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) LastTimestamp(ctx context.Context, symbol string, tf market.Timeframe) (time.Time, bool, error) {
	args := m.Called(ctx, symbol, tf)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *MockStore) HasCandle(ctx context.Context, symbol string, tf market.Timeframe, ts time.Time) (bool, error) {
	return false, nil
}

func (m *MockStore) ListTimestamps(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]time.Time, error) {
	args := m.Called(ctx, symbol, tf, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockStore) CountCandles(ctx context.Context, symbol string, tf market.Timeframe) (int64, error) {
	return 0, nil
}

func (m *MockStore) CandlesInRange(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	return nil, nil
}

func (m *MockStore) InsertLog(ctx context.Context, entry store.LogEntry) error {
	m.mu.Lock()
	m.logs = append(m.logs, entry)
	m.mu.Unlock()
	return nil
}

func (m *MockStore) RecentLogs(ctx context.Context, limit int) ([]store.LogEntry, error) {
	return nil, nil
}

func (m *MockStore) Ping(ctx context.Context) error { return nil }
func (m *MockStore) Close() error                   { return nil }

func (m *MockStore) logLevels() []store.LogLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.LogLevel, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Level)
	}
	return out
}

var testPair = market.Pair{Symbol: "US30", Timeframe: market.TimeframeH1}

func testCandle(ts time.Time) market.Candle {
	return market.Candle{
		Symbol:    "US30",
		Timeframe: market.TimeframeH1,
		Timestamp: ts,
		Open:      decimal.NewFromInt(100),
		High:      decimal.NewFromInt(110),
		Low:       decimal.NewFromInt(90),
		Close:     decimal.NewFromInt(105),
		Volume:    10,
	}
}

func newTestEngine(t *testing.T, cfg Config, src market.Source, st store.CandleStore, now time.Time) *Engine {
	t.Helper()
	if cfg.Pairs == nil {
		cfg.Pairs = []market.Pair{testPair}
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = time.Millisecond
	}
	e, err := New(cfg, src, st)
	assert.NoError(t, err)
	e.nowFn = func() time.Time { return now }
	return e
}

func TestEngineNewValidation(t *testing.T) {
	src := new(MockSource)
	st := new(MockStore)

	t.Run("Missing Source", func(t *testing.T) {
		_, err := New(Config{Pairs: []market.Pair{testPair}}, nil, st)
		assert.Error(t, err)
	})

	t.Run("Missing Store", func(t *testing.T) {
		_, err := New(Config{Pairs: []market.Pair{testPair}}, src, nil)
		assert.Error(t, err)
	})

	t.Run("No Pairs", func(t *testing.T) {
		_, err := New(Config{}, src, st)
		assert.Error(t, err)
	})

	t.Run("Bad Pair Timeframe", func(t *testing.T) {
		_, err := New(Config{Pairs: []market.Pair{{Symbol: "US30", Timeframe: "M2"}}}, src, st)
		assert.Error(t, err)
	})
}

func TestEngineBootstrap(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	src := new(MockSource)
	st := new(MockStore)

	lookback := 48 * time.Hour
	e := newTestEngine(t, Config{HistoricalLookback: lookback, GapRepairEvery: 10}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(time.Time{}, false, nil)
	fetched := []market.Candle{testCandle(now.Add(-2 * time.Hour)), testCandle(now.Add(-1 * time.Hour))}
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, now.Add(-lookback), now).Return(fetched, nil)
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(2), nil)

	e.RunCycle(context.Background())

	src.AssertExpectations(t)
	st.AssertExpectations(t)
	assert.Len(t, st.upserted, 2)
	assert.NotContains(t, st.logLevels(), store.LevelError)
}

func TestEngineLiveCollection(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	watermark := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 10}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)
	// First pass after startup re-opens a full day behind the watermark.
	resumeFrom := watermark.Add(-24 * time.Hour)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, resumeFrom, now).
		Return([]market.Candle{testCandle(watermark), testCandle(now.Truncate(time.Hour))}, nil).Once()
	// Steady state narrows to one cadence step.
	liveFrom := watermark.Add(-time.Hour)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, liveFrom, now).
		Return([]market.Candle{testCandle(now.Truncate(time.Hour))}, nil).Once()
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(1), nil)

	e.RunCycle(context.Background())
	e.RunCycle(context.Background())

	src.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestEngineLiveEmptyFetchIsNotAnError(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	watermark := now.Truncate(time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 10}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return([]market.Candle{}, nil)

	e.RunCycle(context.Background())

	assert.NotContains(t, st.logLevels(), store.LevelError)
	st.AssertNotCalled(t, "UpsertCandles", mock.Anything, mock.Anything)
}

func TestEngineGapRepairCadence(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	watermark := now.Truncate(time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	// Every 2nd cycle is a repair pass.
	e := newTestEngine(t, Config{GapRepairEvery: 2}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return([]market.Candle{}, nil)
	st.On("ListTimestamps", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return([]time.Time{}, nil)

	e.RunCycle(context.Background()) // cycle 1: live
	st.AssertNotCalled(t, "ListTimestamps", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	e.RunCycle(context.Background()) // cycle 2: gap repair
	st.AssertCalled(t, "ListTimestamps", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything)
}

func TestEngineGapRepairRefetchesMissingRuns(t *testing.T) {
	now := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	watermark := day.Add(22 * time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	// Lookback chosen so the scan starts exactly at the top of the day.
	e := newTestEngine(t, Config{GapRepairEvery: 1, GapRepairLookback: 22 * time.Hour}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)

	// Stored rows cover everything except 06:00..09:00.
	var stored []time.Time
	for h := 0; h <= 23; h++ {
		if h >= 6 && h <= 9 {
			continue
		}
		stored = append(stored, day.Add(time.Duration(h)*time.Hour))
	}
	st.On("ListTimestamps", mock.Anything, "US30", market.TimeframeH1, day, now.Add(time.Hour)).
		Return(stored, nil)

	gapStart := day.Add(6 * time.Hour)
	gapEnd := day.Add(9 * time.Hour)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, gapStart, gapEnd).
		Return([]market.Candle{testCandle(gapStart), testCandle(gapEnd)}, nil)
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(2), nil)

	e.RunCycle(context.Background())

	src.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestEngineGapRepairFillsSingleSlotGap(t *testing.T) {
	now := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	watermark := day.Add(22 * time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 1, GapRepairLookback: 22 * time.Hour}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)

	// One missing hour at 15:00: a gap whose start and end coincide.
	var stored []time.Time
	for h := 0; h <= 23; h++ {
		if h == 15 {
			continue
		}
		stored = append(stored, day.Add(time.Duration(h)*time.Hour))
	}
	st.On("ListTimestamps", mock.Anything, "US30", market.TimeframeH1, day, now.Add(time.Hour)).
		Return(stored, nil)

	gapSlot := day.Add(15 * time.Hour)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, gapSlot, gapSlot).
		Return([]market.Candle{testCandle(gapSlot)}, nil)
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(1), nil)

	e.RunCycle(context.Background())

	src.AssertExpectations(t)
	st.AssertExpectations(t)
	if assert.Len(t, st.upserted, 1) {
		assert.Equal(t, gapSlot, st.upserted[0].Timestamp)
	}
}

func TestEngineGapRepairAcceptsClosedMarket(t *testing.T) {
	now := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 1, GapRepairLookback: 22 * time.Hour}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(day.Add(22*time.Hour), true, nil)
	var stored []time.Time
	for h := 0; h <= 23; h++ {
		if h == 12 {
			continue
		}
		stored = append(stored, day.Add(time.Duration(h)*time.Hour))
	}
	st.On("ListTimestamps", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return(stored, nil)
	gapSlot := day.Add(12 * time.Hour)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, gapSlot, gapSlot).
		Return([]market.Candle{}, nil)

	e.RunCycle(context.Background())

	// The absent slot was genuinely refetched, came back empty, and was
	// accepted quietly, never escalated.
	src.AssertExpectations(t)
	assert.NotContains(t, st.logLevels(), store.LevelError)
	st.AssertNotCalled(t, "UpsertCandles", mock.Anything, mock.Anything)
}

func TestEngineGapRepairCountsBoundaryCandle(t *testing.T) {
	// The tick lands exactly on a cadence boundary and that candle is
	// already stored: the scan must count it rather than refetch it.
	now := time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC)
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	watermark := now
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 1, GapRepairLookback: 23 * time.Hour}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)

	var stored []time.Time
	for h := 0; h <= 23; h++ {
		stored = append(stored, day.Add(time.Duration(h)*time.Hour))
	}
	// Half-open listing must extend one step past now to include 23:00.
	st.On("ListTimestamps", mock.Anything, "US30", market.TimeframeH1, day, now.Add(time.Hour)).
		Return(stored, nil)

	e.RunCycle(context.Background())

	st.AssertExpectations(t)
	src.AssertNotCalled(t, "FetchCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineShutdownIsNotAnError(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	watermark := now.Truncate(time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 10}, src, st, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return(nil, context.Canceled)

	e.collectPair(ctx, testPair, "a1b2c3d4", false)

	// Cancellation mid-fetch is routine shutdown, not an upstream outage:
	// no ERROR row and no reconnect ladder.
	assert.NotContains(t, st.logLevels(), store.LevelError)
	src.AssertNotCalled(t, "Connect", mock.Anything)
}

func TestEngineFetchFailureSkipsPairOnly(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	watermark := now.Truncate(time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	other := market.Pair{Symbol: "USTech", Timeframe: market.TimeframeH1}
	e := newTestEngine(t, Config{
		Pairs:          []market.Pair{testPair, other},
		GapRepairEvery: 10,
		MaxReconnects:  1,
	}, src, st, now)
	// Serialize the pass so the failing pair exhausts the breaker budget
	// deterministically before the healthy pair runs.
	e.cfg.MaxConcurrentPairs = 1

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)
	st.On("LastTimestamp", mock.Anything, "USTech", market.TimeframeH1).Return(watermark, true, nil)

	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return(nil, errors.New("terminal unreachable"))
	src.On("IsHealthy", mock.Anything).Return(false)
	src.On("Connect", mock.Anything).Return(nil)
	// After reconnect, the retried fetch fails again: the pair is skipped.
	src.On("FetchCandles", mock.Anything, "USTech", market.TimeframeH1, mock.Anything, mock.Anything).
		Return([]market.Candle{testCandle(watermark)}, nil).Maybe()
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(1), nil).Maybe()

	e.RunCycle(context.Background())

	// The failing pair produced an ERROR entry but no watermark advance.
	assert.Contains(t, st.logLevels(), store.LevelError)
	for _, c := range st.upserted {
		assert.NotEqual(t, "US30", c.Symbol)
	}
}

func TestEngineStoreErrorDoesNotAdvance(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	watermark := now.Truncate(time.Hour)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 10}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(watermark, true, nil)
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return([]market.Candle{testCandle(watermark)}, nil)
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))

	e.RunCycle(context.Background())

	assert.Contains(t, st.logLevels(), store.LevelError)
	assert.Empty(t, st.upserted)
}

func TestEngineNormalizeForcesPairIdentity(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{GapRepairEvery: 10}, src, st, now)

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).
		Return(now.Truncate(time.Hour), true, nil)

	stray := testCandle(now.Truncate(time.Hour).Add(17 * time.Second))
	stray.Symbol = "WRONG"
	stray.Timeframe = market.TimeframeM1
	src.On("FetchCandles", mock.Anything, "US30", market.TimeframeH1, mock.Anything, mock.Anything).
		Return([]market.Candle{stray}, nil)
	st.On("UpsertCandles", mock.Anything, mock.Anything).Return(int64(1), nil)

	e.RunCycle(context.Background())

	if assert.Len(t, st.upserted, 1) {
		got := st.upserted[0]
		assert.Equal(t, "US30", got.Symbol)
		assert.Equal(t, market.TimeframeH1, got.Timeframe)
		assert.True(t, market.TimeframeH1.IsAligned(got.Timestamp))
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	src := new(MockSource)
	st := new(MockStore)

	e := newTestEngine(t, Config{TickInterval: 10 * time.Millisecond, GapRepairEvery: 10}, src, st, time.Now().UTC())

	st.On("LastTimestamp", mock.Anything, "US30", market.TimeframeH1).Return(time.Time{}, false, nil)
	src.On("FetchCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]market.Candle{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
	assert.NotEmpty(t, e.LastCycleID())
}
