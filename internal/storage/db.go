package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradecopilot/internal/types"
)

// DB wraps a GORM connection and implements every persistence interface
// the domain packages depend on (state.Persister, bars.Writer,
// ledger.Store, replay.BarReader, eval.Recorder).
type DB struct {
	gorm *gorm.DB
}

// Open connects to MySQL using dsn (format:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local")
// and migrates every logical table.
func Open(dsn string) (*DB, error) {
	g, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := g.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &DB{gorm: g}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the underlying connection pool can still reach
// MySQL; wired into /healthz so a broken DB connection surfaces as
// unhealthy instead of the static "healthy" the teacher's health_check.go
// always returned.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FlushSymbolStates upserts a batch of symbol-state rows, satisfying
// state.Persister.
func (d *DB) FlushSymbolStates(ctx context.Context, rows []types.SymbolState) error {
	if len(rows) == 0 {
		return nil
	}
	recs := make([]SymbolStateRecord, 0, len(rows))
	for _, s := range rows {
		recs = append(recs, SymbolStateRecord{
			Symbol: s.Symbol, LastPrice: s.LastPrice, LastBid: s.LastBid, LastAsk: s.LastAsk,
			LastUpdate: s.LastUpdate, YesterdayClose: s.YesterdayClose, TodayOpen: s.TodayOpen,
			Price1mAgo: s.Price1mAgo, Price5mAgo: s.Price5mAgo, Price15mAgo: s.Price15mAgo,
			PctFromYesterday: s.PctFromYesterday, PctFrom1m: s.PctFrom1m, PctFrom5m: s.PctFrom5m, PctFrom15m: s.PctFrom15m,
			HODPrice: s.HODPrice, HODTime: s.HODTime, LODPrice: s.LODPrice, LODTime: s.LODTime,
			SpreadPct: s.SpreadPct, Tier: int(s.Tier),
		})
	}
	return d.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&recs).Error
}

// UpsertBars writes sealed bars in a batch, upserting on
// (symbol, minute_start) so re-seals of the same minute are idempotent.
// Satisfies bars.Writer.
func (d *DB) UpsertBars(ctx context.Context, bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	recs := make([]PriceBarRecord, 0, len(bars))
	for _, b := range bars {
		recs = append(recs, PriceBarRecord{
			Symbol: b.Symbol, MinuteStart: b.MinuteStart,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
			Volume: b.Volume, TradeCount: b.TradeCount,
			Source: string(b.Source), IsLegacy: b.IsLegacy(),
		})
	}
	return d.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "minute_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "trade_count", "source", "is_legacy"}),
	}).Create(&recs).Error
}

// ReadBars paginates historical_bars for symbol, satisfying
// replay.BarReader. Legacy (is_legacy) bars are always excluded; there is
// no option to include them here.
func (d *DB) ReadBars(ctx context.Context, symbol string, offset, limit int) ([]types.Bar, int, error) {
	var recs []HistoricalBarRecord
	var total int64

	q := d.gorm.WithContext(ctx).Model(&HistoricalBarRecord{}).Where("symbol = ? AND is_legacy = ?", symbol, false)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("minute_start ASC").Offset(offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, err
	}

	bars := make([]types.Bar, 0, len(recs))
	for _, r := range recs {
		bars = append(bars, types.Bar{
			Symbol: r.Symbol, MinuteStart: r.MinuteStart,
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: r.Volume, TradeCount: r.TradeCount, Source: types.BarSourceReplay,
		})
	}
	return bars, int(total), nil
}

// SavePosition upserts a trade row, satisfying ledger.Store.
func (d *DB) SavePosition(p types.Position) error {
	rec := TradeRecord{
		ID: p.ID, UserID: p.UserID, Symbol: p.Symbol, Side: string(p.Side),
		Quantity: p.Quantity, EntryPrice: p.EntryPrice, EntryValue: p.EntryValue, EntryTime: p.EntryTime,
		ExitPrice: p.ExitPrice, ExitTime: p.ExitTime, Status: string(p.Status),
		RealizedPnLCum: p.RealizedPnLCum, SessionID: p.SessionID,
	}
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// SaveSignal and SaveEvaluation satisfy eval.Recorder.
func (d *DB) SaveSignal(s types.Signal) error {
	features, _ := json.Marshal(s.Features)
	rec := SignalRecordRow{
		ID: s.ID, Symbol: s.Symbol, Classifier: string(s.Classifier), EmittedAt: s.EmitTime,
		Features: string(features), Direction: string(s.Direction), Stars: s.Stars, Grade: s.Grade,
		Confidence: s.Confidence, Displayed: s.Displayed, FilterReason: s.FilterReason,
	}
	return d.gorm.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).Create(&rec).Error
}

func (d *DB) SaveEvaluation(e types.SignalEvaluation) error {
	updates := map[string]any{
		"eval_price_at2m": e.PriceAt2m, "eval_price_at5m": e.PriceAt5m,
		"eval_price_at10m": e.PriceAt10m, "eval_price_at30m": e.PriceAt30m,
		"correct2m": e.Correct2m, "correct5m": e.Correct5m,
		"correct10m": e.Correct10m, "final_correct": e.FinalCorrect,
	}
	return d.gorm.Model(&SignalRecordRow{}).Where("id = ?", e.SignalID).Updates(updates).Error
}

// LoadCommands reads the full command registry (commands + aliases +
// phrases) for the registry's hot-reloadable Load.
func (d *DB) LoadCommands(ctx context.Context) ([]types.Command, error) {
	var cmdRows []TradeCommandRecord
	if err := d.gorm.WithContext(ctx).Find(&cmdRows).Error; err != nil {
		return nil, err
	}

	var aliasRows []TradeAliasRecord
	if err := d.gorm.WithContext(ctx).Find(&aliasRows).Error; err != nil {
		return nil, err
	}
	var phraseRows []TradePhraseRecord
	if err := d.gorm.WithContext(ctx).Find(&phraseRows).Error; err != nil {
		return nil, err
	}

	aliasesByCmd := map[string][]string{}
	for _, a := range aliasRows {
		aliasesByCmd[a.CommandID] = append(aliasesByCmd[a.CommandID], a.Alias)
	}
	phrasesByCmd := map[string][]types.CommandPhrase{}
	for _, p := range phraseRows {
		phrasesByCmd[p.CommandID] = append(phrasesByCmd[p.CommandID], types.CommandPhrase{Text: p.Phrase, Confidence: p.Confidence})
	}

	out := make([]types.Command, 0, len(cmdRows))
	for _, c := range cmdRows {
		out = append(out, types.Command{
			Name: c.Name, HandlerKey: c.HandlerKey, Category: c.Category,
			Aliases: aliasesByCmd[c.ID], Phrases: phrasesByCmd[c.ID], Implemented: c.Implemented,
		})
	}
	return out, nil
}

// SeedYesterdayCloses reads the most recent symbol_state snapshot per
// symbol for startup seeding of the state store's baselines.
func (d *DB) SeedYesterdayCloses(ctx context.Context) (map[string]float64, error) {
	var rows []SymbolStateRecord
	if err := d.gorm.WithContext(ctx).Select("symbol", "last_price").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Symbol] = r.LastPrice
	}
	return out, nil
}

// BarsInRange serves GET /bars/{symbol}?from&to&include_legacy against
// the live price_bars table (as opposed to ReadBars, which paginates the
// separate historical_bars replay corpus).
func (d *DB) BarsInRange(ctx context.Context, symbol string, from, to time.Time, includeLegacy bool) ([]types.Bar, error) {
	q := d.gorm.WithContext(ctx).Where("symbol = ? AND minute_start BETWEEN ? AND ?", symbol, from, to)
	if !includeLegacy {
		q = q.Where("is_legacy = ?", false)
	}
	var recs []PriceBarRecord
	if err := q.Order("minute_start ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	bars := make([]types.Bar, 0, len(recs))
	for _, r := range recs {
		bars = append(bars, types.Bar{
			Symbol: r.Symbol, MinuteStart: r.MinuteStart,
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: r.Volume, TradeCount: r.TradeCount, Source: types.BarSource(r.Source),
		})
	}
	return bars, nil
}

// SaveAlert persists a screener Alert row.
func (d *DB) SaveAlert(a types.Alert) error {
	rec := ScreenerAlertRecord{
		ID: a.ID, Symbol: a.Symbol, Kind: string(a.Kind),
		TriggerPrice: a.TriggerPrice, TriggerTime: a.TriggerTime,
	}
	rec.SetConditions(a.Conditions)
	return d.gorm.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).Create(&rec).Error
}

// ListAlerts returns alerts fired since the given time, most recent
// first, capped at limit.
func (d *DB) ListAlerts(ctx context.Context, since time.Time, limit int) ([]types.Alert, error) {
	var recs []ScreenerAlertRecord
	q := d.gorm.WithContext(ctx).Where("trigger_time >= ?", since).Order("trigger_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return alertsFromRecords(recs), nil
}

// AlertsToday returns every alert fired since local midnight.
func (d *DB) AlertsToday(ctx context.Context) ([]types.Alert, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return d.ListAlerts(ctx, midnight, 0)
}

// AlertStats returns a count of alerts fired today, grouped by kind.
func (d *DB) AlertStats(ctx context.Context) (map[string]int, error) {
	alerts, err := d.AlertsToday(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int)
	for _, a := range alerts {
		stats[string(a.Kind)]++
	}
	return stats, nil
}

func alertsFromRecords(recs []ScreenerAlertRecord) []types.Alert {
	out := make([]types.Alert, 0, len(recs))
	for _, r := range recs {
		var conditions map[string]any
		json.Unmarshal([]byte(r.Conditions), &conditions)
		out = append(out, types.Alert{
			ID: r.ID, Symbol: r.Symbol, Kind: types.AlertKind(r.Kind),
			TriggerPrice: r.TriggerPrice, TriggerTime: r.TriggerTime, Conditions: conditions,
		})
	}
	return out
}
