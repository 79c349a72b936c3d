package collector

import (
	"context"
	"time"

	"github.com/AzharJacobs/MT5/internal/logger"
	"github.com/AzharJacobs/MT5/internal/market"
	"github.com/AzharJacobs/MT5/internal/store"
)

// eventLog fans collection events out to the console logger and the
// persisted data_collection_logs table. The store sink is best-effort: a
// failed write is downgraded to a console warning and never interrupts
// collection.
type eventLog struct {
	store store.CandleStore
}

func (e *eventLog) emit(ctx context.Context, level store.LogLevel, pair market.Pair, cycleID, msg string, details map[string]any) {
	prefix := ""
	if pair.Symbol != "" {
		prefix = "[" + pair.String() + "] "
	}
	switch level {
	case store.LevelError:
		logger.Errorf("%s%s", prefix, msg)
	case store.LevelWarning:
		logger.Warnf("%s%s", prefix, msg)
	default:
		logger.Infof("%s%s", prefix, msg)
	}
	if e == nil || e.store == nil {
		return
	}
	entry := store.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Symbol:    pair.Symbol,
		Timeframe: string(pair.Timeframe),
		Message:   msg,
		Details:   details,
		CycleID:   cycleID,
	}
	if err := e.store.InsertLog(ctx, entry); err != nil {
		logger.Warnf("persisting log entry failed: %v", err)
	}
}

func (e *eventLog) info(ctx context.Context, pair market.Pair, cycleID, msg string, details map[string]any) {
	e.emit(ctx, store.LevelInfo, pair, cycleID, msg, details)
}

func (e *eventLog) warn(ctx context.Context, pair market.Pair, cycleID, msg string, details map[string]any) {
	e.emit(ctx, store.LevelWarning, pair, cycleID, msg, details)
}

func (e *eventLog) error(ctx context.Context, pair market.Pair, cycleID, msg string, details map[string]any) {
	e.emit(ctx, store.LevelError, pair, cycleID, msg, details)
}
