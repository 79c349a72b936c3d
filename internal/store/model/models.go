package model

import "gorm.io/datatypes"

// CandleModel maps to the 'candles' table. The composite unique index on
// (symbol, timeframe, timestamp) is the sole deduplication key; UpsertCandles
// relies on it for insert-or-skip semantics.
type CandleModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	Symbol    string `gorm:"column:symbol;size:64;not null;uniqueIndex:idx_candles_key,priority:1;index:idx_candles_pair,priority:1"`
	Timeframe string `gorm:"column:timeframe;size:32;not null;uniqueIndex:idx_candles_key,priority:2;index:idx_candles_pair,priority:2"`
	Timestamp int64  `gorm:"column:timestamp;not null;uniqueIndex:idx_candles_key,priority:3;index:idx_candles_ts"`
	Open      string `gorm:"column:open;not null"`
	High      string `gorm:"column:high;not null"`
	Low       string `gorm:"column:low;not null"`
	Close     string `gorm:"column:close;not null"`
	Volume    int64  `gorm:"column:volume;not null"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt int64  `gorm:"column:updated_at;autoUpdateTime"`
}

func (CandleModel) TableName() string { return "candles" }

// CollectionLogModel maps to the 'data_collection_logs' table.
type CollectionLogModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Timestamp int64          `gorm:"column:timestamp;not null;index:idx_logs_ts"`
	Level     string         `gorm:"column:level;size:32;not null;index:idx_logs_level"`
	Symbol    string         `gorm:"column:symbol;size:64"`
	Timeframe string         `gorm:"column:timeframe;size:32"`
	Message   string         `gorm:"column:message;type:TEXT;not null"`
	Details   datatypes.JSON `gorm:"column:details;type:TEXT"`
	CycleID   string         `gorm:"column:cycle_id;size:64;index:idx_logs_cycle"`
}

func (CollectionLogModel) TableName() string { return "data_collection_logs" }
