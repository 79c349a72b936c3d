package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AzharJacobs/MT5/internal/market"
	"github.com/AzharJacobs/MT5/internal/store"
	storemodel "github.com/AzharJacobs/MT5/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type candleModel = storemodel.CandleModel
type collectionLogModel = storemodel.CollectionLogModel

// GormStore implements store.CandleStore using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.CandleStore = (*GormStore)(nil)

// New opens (creating if needed) the candle database at path and migrates
// the candles and data_collection_logs tables.
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&candleModel{}, &collectionLogModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: one writer (the engine serializes per pair, pairs share
	// the pool) plus room for concurrent monitoring reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return store.ErrClosed
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertCandles writes the batch with insert-or-skip semantics on the
// composite identity key. When the whole-batch statement fails, rows are
// retried one by one so a single malformed candle cannot sink its batch.
func (s *GormStore) UpsertCandles(ctx context.Context, candles []market.Candle) (int64, error) {
	if s == nil || s.db == nil {
		return 0, store.ErrClosed
	}
	if len(candles) == 0 {
		return 0, nil
	}
	models := make([]candleModel, 0, len(candles))
	for _, c := range candles {
		models = append(models, newCandleModel(c))
	}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
		DoNothing: true,
	}
	res := s.db.WithContext(ctx).Clauses(onConflict).CreateInBatches(&models, 500)
	if res.Error == nil {
		return res.RowsAffected, nil
	}
	// Per-row fallback: each candle is independently idempotent.
	var inserted int64
	var firstErr error
	for i := range models {
		row := s.db.WithContext(ctx).Clauses(onConflict).Create(&models[i])
		if row.Error != nil {
			if firstErr == nil {
				firstErr = row.Error
			}
			continue
		}
		inserted += row.RowsAffected
	}
	if firstErr != nil {
		return inserted, fmt.Errorf("upsert candles: %w", firstErr)
	}
	return inserted, nil
}

func (s *GormStore) LastTimestamp(ctx context.Context, symbol string, tf market.Timeframe) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, store.ErrClosed
	}
	var model candleModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Order("timestamp DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.Unix(model.Timestamp, 0).UTC(), true, nil
}

func (s *GormStore) HasCandle(ctx context.Context, symbol string, tf market.Timeframe, ts time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, store.ErrClosed
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&candleModel{}).
		Where("symbol = ? AND timeframe = ? AND timestamp = ?", symbol, string(tf), ts.UTC().Unix()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListTimestamps(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, store.ErrClosed
	}
	var stamps []int64
	err := s.db.WithContext(ctx).Model(&candleModel{}).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?",
			symbol, string(tf), from.UTC().Unix(), to.UTC().Unix()).
		Order("timestamp ASC").
		Pluck("timestamp", &stamps).Error
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		out = append(out, time.Unix(ts, 0).UTC())
	}
	return out, nil
}

func (s *GormStore) CountCandles(ctx context.Context, symbol string, tf market.Timeframe) (int64, error) {
	if s == nil || s.db == nil {
		return 0, store.ErrClosed
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&candleModel{}).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Count(&count).Error
	return count, err
}

func (s *GormStore) CandlesInRange(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	if s == nil || s.db == nil {
		return nil, store.ErrClosed
	}
	var models []candleModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?",
			symbol, string(tf), from.UTC().Unix(), to.UTC().Unix()).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(models))
	for _, m := range models {
		c, err := candleModelToCandle(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *GormStore) InsertLog(ctx context.Context, entry store.LogEntry) error {
	if s == nil || s.db == nil {
		return store.ErrClosed
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	model := collectionLogModel{
		Timestamp: entry.Timestamp.UTC().Unix(),
		Level:     string(entry.Level),
		Symbol:    strings.TrimSpace(entry.Symbol),
		Timeframe: strings.TrimSpace(entry.Timeframe),
		Message:   entry.Message,
		CycleID:   strings.TrimSpace(entry.CycleID),
	}
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal log details: %w", err)
		}
		model.Details = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) RecentLogs(ctx context.Context, limit int) ([]store.LogEntry, error) {
	if s == nil || s.db == nil {
		return nil, store.ErrClosed
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []collectionLogModel
	err := s.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.LogEntry, 0, len(models))
	for _, m := range models {
		entry := store.LogEntry{
			Timestamp: time.Unix(m.Timestamp, 0).UTC(),
			Level:     store.LogLevel(m.Level),
			Symbol:    m.Symbol,
			Timeframe: m.Timeframe,
			Message:   m.Message,
			CycleID:   m.CycleID,
		}
		if len(m.Details) > 0 {
			_ = json.Unmarshal(m.Details, &entry.Details)
		}
		out = append(out, entry)
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

func newCandleModel(c market.Candle) candleModel {
	return candleModel{
		Symbol:    c.Symbol,
		Timeframe: string(c.Timeframe),
		Timestamp: c.Timestamp.UTC().Unix(),
		Open:      c.Open.String(),
		High:      c.High.String(),
		Low:       c.Low.String(),
		Close:     c.Close.String(),
		Volume:    c.Volume,
	}
}

func candleModelToCandle(m candleModel) (market.Candle, error) {
	tf, err := market.ParseTimeframe(m.Timeframe)
	if err != nil {
		return market.Candle{}, fmt.Errorf("stored candle %d: %w", m.ID, err)
	}
	open, err := decimal.NewFromString(m.Open)
	if err != nil {
		return market.Candle{}, fmt.Errorf("stored candle %d: bad open: %w", m.ID, err)
	}
	high, err := decimal.NewFromString(m.High)
	if err != nil {
		return market.Candle{}, fmt.Errorf("stored candle %d: bad high: %w", m.ID, err)
	}
	low, err := decimal.NewFromString(m.Low)
	if err != nil {
		return market.Candle{}, fmt.Errorf("stored candle %d: bad low: %w", m.ID, err)
	}
	closePx, err := decimal.NewFromString(m.Close)
	if err != nil {
		return market.Candle{}, fmt.Errorf("stored candle %d: bad close: %w", m.ID, err)
	}
	return market.Candle{
		Symbol:    m.Symbol,
		Timeframe: tf,
		Timestamp: time.Unix(m.Timestamp, 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    m.Volume,
	}, nil
}
