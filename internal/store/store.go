package store

import (
	"context"
	"errors"
	"time"

	"github.com/AzharJacobs/MT5/internal/market"
)

// LogLevel classifies a persisted collection log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// LogEntry is an append-only operational record. The engine only ever writes
// these; the monitoring API reads them back.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Symbol    string
	Timeframe string
	Message   string
	Details   map[string]any
	CycleID   string
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// CandleStore is a single logical connection to the persistence layer.
// UpsertCandles is the idempotency guarantee the whole collector depends
// on: rows whose identity key already exists are silently skipped, so the
// same batch may be written any number of times.
type CandleStore interface {
	// UpsertCandles writes a batch and returns the number of rows actually
	// inserted (existing identity keys are skipped, not counted). Safe to
	// call repeatedly with overlapping or identical batches.
	UpsertCandles(ctx context.Context, candles []market.Candle) (int64, error)

	// LastTimestamp returns the most recent stored candle-open time for the
	// pair; ok is false when no data exists yet.
	LastTimestamp(ctx context.Context, symbol string, tf market.Timeframe) (ts time.Time, ok bool, err error)

	// HasCandle is a point existence check on the identity key.
	HasCandle(ctx context.Context, symbol string, tf market.Timeframe, ts time.Time) (bool, error)

	// ListTimestamps returns stored candle-open times for the pair inside
	// [from, to), ascending. Feeds gap analysis.
	ListTimestamps(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]time.Time, error)

	// CountCandles reports the stored row count for the pair.
	CountCandles(ctx context.Context, symbol string, tf market.Timeframe) (int64, error)

	// CandlesInRange returns stored candles for the pair inside [from, to),
	// ascending.
	CandlesInRange(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error)

	// InsertLog persists one operational log entry. Best-effort: a failure
	// here must never abort data collection.
	InsertLog(ctx context.Context, entry LogEntry) error

	// RecentLogs returns the newest persisted log entries, newest first.
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	Close() error
}
