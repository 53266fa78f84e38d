// Package bars is the Bar Aggregator: it folds ticks into 1-minute OHLCV
// bars, publishes each sealed bar on the event bus, and batches sealed
// bars to durable storage with an idempotent upsert. It is grounded on the
// teacher's IcebergState accumulate-then-seal-on-timeout shape, generalized
// from detecting an iceberg order to sealing a price bar.
package bars

import (
	"context"
	"log"
	"sync"
	"time"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/types"
)

// Writer persists sealed bars in batches, upserting on (symbol, minute_start)
// so re-seals of the same minute are idempotent.
type Writer interface {
	UpsertBars(ctx context.Context, bars []types.Bar) error
}

// Aggregator owns every in-flight bar; at most one per symbol.
type Aggregator struct {
	bus    *eventbus.Bus
	writer Writer
	schema string // "trades" or "quotes"; drives legacy tagging

	mu       sync.Mutex
	inFlight map[string]types.Bar

	sealed   []types.Bar
	sealedMu sync.Mutex
}

// New constructs an Aggregator. schema controls whether bars built under a
// quotes-only feed are tagged legacy (volume forced to 0).
func New(bus *eventbus.Bus, writer Writer, schema string) *Aggregator {
	return &Aggregator{
		bus:      bus,
		writer:   writer,
		schema:   schema,
		inFlight: make(map[string]types.Bar),
	}
}

// OnTick folds one tick into the in-flight bar for its symbol, sealing the
// prior bar first if the tick belongs to a later minute. A tick for an
// earlier minute than the in-flight bar is dropped.
func (a *Aggregator) OnTick(t types.Tick) {
	minute := t.EventTime.Truncate(time.Minute)

	a.mu.Lock()
	cur, ok := a.inFlight[t.Symbol]

	if !ok {
		a.inFlight[t.Symbol] = a.newBar(t.Symbol, minute, t)
		a.mu.Unlock()
		return
	}

	if minute.Equal(cur.MinuteStart) {
		cur.High = max(cur.High, t.Price)
		cur.Low = min(cur.Low, t.Price)
		cur.Close = t.Price
		cur.Volume += t.Size
		cur.TradeCount++
		a.inFlight[t.Symbol] = cur
		a.mu.Unlock()
		return
	}

	if minute.Before(cur.MinuteStart) {
		// Late tick for an already-closed minute: drop it so sealed bars
		// stay strictly increasing per symbol.
		a.mu.Unlock()
		return
	}

	// minute > cur.MinuteStart: seal the old bar, start a new one.
	delete(a.inFlight, t.Symbol)
	a.inFlight[t.Symbol] = a.newBar(t.Symbol, minute, t)
	a.mu.Unlock()

	a.seal(cur)
}

func (a *Aggregator) newBar(symbol string, minute time.Time, t types.Tick) types.Bar {
	source := types.BarSourceLive
	volume := t.Size
	if a.schema == "quotes" {
		source = types.BarSourceLegacy
		volume = 0
	}
	return types.Bar{
		Symbol:      symbol,
		MinuteStart: minute,
		Open:        t.Price,
		High:        t.Price,
		Low:         t.Price,
		Close:       t.Price,
		Volume:      volume,
		TradeCount:  1,
		Source:      source,
	}
}

// seal moves a bar to the completed buffer and publishes BarSealed.
func (a *Aggregator) seal(bar types.Bar) {
	a.sealedMu.Lock()
	a.sealed = append(a.sealed, bar)
	a.sealedMu.Unlock()

	a.bus.Publish(eventbus.BarTopic(bar.Symbol), bar)
	a.bus.Publish(eventbus.TopicAllBars, bar)
}

// RunStaleFlusher seals any in-flight bar whose minute_start is more than
// one minute behind wall clock, on a period-second interval — handling
// illiquid symbols that receive no fresh ticks. It also drains the sealed
// buffer to durable storage on the same tick.
func (a *Aggregator) RunStaleFlusher(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.sealStale(now)
			a.flushSealed(ctx)
		}
	}
}

func (a *Aggregator) sealStale(now time.Time) {
	var stale []types.Bar
	a.mu.Lock()
	for symbol, bar := range a.inFlight {
		if now.Sub(bar.MinuteStart) > time.Minute {
			stale = append(stale, bar)
			delete(a.inFlight, symbol)
		}
	}
	a.mu.Unlock()

	for _, bar := range stale {
		a.seal(bar)
	}
}

func (a *Aggregator) flushSealed(ctx context.Context) {
	a.sealedMu.Lock()
	batch := a.sealed
	a.sealed = nil
	a.sealedMu.Unlock()

	if len(batch) == 0 || a.writer == nil {
		return
	}
	if err := a.writer.UpsertBars(ctx, batch); err != nil {
		log.Printf("bars: upsert error, will retry on next sealed batch: %v", err)
		a.sealedMu.Lock()
		a.sealed = append(batch, a.sealed...)
		a.sealedMu.Unlock()
	}
}
