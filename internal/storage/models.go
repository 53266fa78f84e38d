// Package storage is the durable-store side of Config & Persistence: GORM
// models for every logical table named in the system's external
// interfaces, migrated with AutoMigrate and opened against MySQL.
// Grounded on ChoSanghyuk-blackholedex's MySQLRecorder (gorm.Open +
// AutoMigrate + typed record structs with a TableName override).
package storage

import (
	"encoding/json"
	"time"
)

// SymbolStateRecord mirrors the Symbol State Store's row shape.
type SymbolStateRecord struct {
	Symbol           string `gorm:"primaryKey;size:16"`
	LastPrice        float64
	LastBid          float64
	LastAsk          float64
	LastUpdate       time.Time
	YesterdayClose   float64
	TodayOpen        float64
	Price1mAgo       float64
	Price5mAgo       float64
	Price15mAgo      float64
	PctFromYesterday float64
	PctFrom1m        float64
	PctFrom5m        float64
	PctFrom15m       float64
	HODPrice         float64
	HODTime          time.Time
	LODPrice         float64
	LODTime          time.Time
	SpreadPct        float64
	Tier             int
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (SymbolStateRecord) TableName() string { return "symbol_state" }

// PriceBarRecord mirrors price_bars, UNIQUE(symbol, minute_start).
type PriceBarRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"size:16;uniqueIndex:uniq_symbol_minute;not null"`
	MinuteStart time.Time `gorm:"uniqueIndex:uniq_symbol_minute;not null"`
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	TradeCount  int
	Source      string `gorm:"size:16"`
	IsLegacy    bool
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (PriceBarRecord) TableName() string { return "price_bars" }

// HistoricalBarRecord is the replay corpus, same shape as PriceBarRecord.
type HistoricalBarRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"size:16;uniqueIndex:uniq_hist_symbol_minute;not null"`
	MinuteStart time.Time `gorm:"uniqueIndex:uniq_hist_symbol_minute;not null"`
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	TradeCount  int
	Source      string `gorm:"size:16"`
	IsLegacy    bool
}

func (HistoricalBarRecord) TableName() string { return "historical_bars" }

// ScreenerAlertRecord mirrors screener_alerts.
type ScreenerAlertRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Symbol       string `gorm:"size:16;index"`
	Kind         string `gorm:"size:32"`
	TriggerPrice float64
	TriggerTime  time.Time
	Conditions   string `gorm:"type:json"`
	Metadata     string `gorm:"type:json"`
}

func (ScreenerAlertRecord) TableName() string { return "screener_alerts" }

// SetConditions marshals a map into the jsonb-ish Conditions column.
func (r *ScreenerAlertRecord) SetConditions(m map[string]any) {
	b, _ := json.Marshal(m)
	r.Conditions = string(b)
}

// TradeRecord mirrors the `trades` table (Position).
type TradeRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	UserID         string `gorm:"size:64;index"`
	Symbol         string `gorm:"size:16;index"`
	Side           string `gorm:"size:8"`
	Quantity       float64
	EntryPrice     float64
	EntryValue     float64
	EntryTime      time.Time
	ExitPrice      float64
	ExitTime       time.Time
	Status         string `gorm:"size:8;index"`
	RealizedPnLCum float64
	SessionID      string `gorm:"size:64;index"`
}

func (TradeRecord) TableName() string { return "trades" }

// TradeCommandRecord, TradeAliasRecord, TradePhraseRecord make up the
// command registry tables.
type TradeCommandRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"size:64;uniqueIndex"`
	HandlerKey  string `gorm:"size:64"`
	Category    string `gorm:"size:32"`
	Implemented bool
}

func (TradeCommandRecord) TableName() string { return "trade_commands" }

type TradeAliasRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CommandID string `gorm:"size:36;index"`
	Alias     string `gorm:"size:64"`
}

func (TradeAliasRecord) TableName() string { return "trade_aliases" }

type TradePhraseRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	CommandID  string `gorm:"size:36;index"`
	Phrase     string `gorm:"size:256"`
	Confidence float64
}

func (TradePhraseRecord) TableName() string { return "trade_phrases" }

// ControllerMappingRecord mirrors controller_mappings (gamepad/voice input
// bindings), out of scope to design but kept as a registry-adjacent table.
type ControllerMappingRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	InputCode string `gorm:"size:64"`
	CommandID string `gorm:"size:36;index"`
}

func (ControllerMappingRecord) TableName() string { return "controller_mappings" }

// SessionStateRecord mirrors session_state.
type SessionStateRecord struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Flags     string `gorm:"type:json"`
}

func (SessionStateRecord) TableName() string { return "session_state" }

// SignalRecordRow mirrors signal_records.
type SignalRecordRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	SessionID    string `gorm:"size:64;index"`
	Symbol       string `gorm:"size:16;index"`
	Classifier   string `gorm:"size:16"`
	EmittedAt    time.Time
	Features     string `gorm:"type:json"`
	Direction    string `gorm:"size:8"`
	Stars        int
	Grade        int
	Confidence   float64
	Displayed    bool
	FilterReason string `gorm:"size:128"`
	EvalPriceAt2m  float64
	EvalPriceAt5m  float64
	EvalPriceAt10m float64
	EvalPriceAt30m float64
	Correct2m    *bool
	Correct5m    *bool
	Correct10m   *bool
	FinalCorrect *bool
}

func (SignalRecordRow) TableName() string { return "signal_records" }

// TestSessionRecord mirrors test_sessions.
type TestSessionRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Symbol    string `gorm:"size:16;index"`
	Config    string `gorm:"type:json"`
	Metrics   string `gorm:"type:json"`
	Status    string `gorm:"size:16"`
	StartedAt time.Time
	EndedAt   time.Time
}

func (TestSessionRecord) TableName() string { return "test_sessions" }

// AllModels is the full migration set, passed to AutoMigrate at startup.
func AllModels() []any {
	return []any{
		&SymbolStateRecord{},
		&PriceBarRecord{},
		&HistoricalBarRecord{},
		&ScreenerAlertRecord{},
		&TradeRecord{},
		&TradeCommandRecord{},
		&TradeAliasRecord{},
		&TradePhraseRecord{},
		&ControllerMappingRecord{},
		&SessionStateRecord{},
		&SignalRecordRow{},
		&TestSessionRecord{},
	}
}
