package bars

import (
	"context"
	"testing"
	"time"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/types"
)

type fakeWriter struct {
	batches [][]types.Bar
}

func (f *fakeWriter) UpsertBars(ctx context.Context, bars []types.Bar) error {
	f.batches = append(f.batches, bars)
	return nil
}

func TestOnTickFoldsSameMinuteTicksIntoOneBar(t *testing.T) {
	bus := eventbus.New(16)
	a := New(bus, &fakeWriter{}, "trades")

	base := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: base, Price: 100, Size: 10})
	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: base.Add(10 * time.Second), Price: 105, Size: 5})
	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: base.Add(20 * time.Second), Price: 98, Size: 7})

	a.mu.Lock()
	bar := a.inFlight["AAPL"]
	a.mu.Unlock()

	if bar.Open != 100 || bar.High != 105 || bar.Low != 98 || bar.Close != 98 {
		t.Fatalf("unexpected OHLC: %+v", bar)
	}
	if bar.Volume != 22 || bar.TradeCount != 3 {
		t.Fatalf("unexpected volume/trade count: %+v", bar)
	}
}

func TestTickInNewMinuteSealsPriorBar(t *testing.T) {
	bus := eventbus.New(16)
	sub := bus.Subscribe(eventbus.BarTopic("AAPL"))
	a := New(bus, &fakeWriter{}, "trades")

	base := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: base, Price: 100, Size: 10})
	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: base.Add(time.Minute), Price: 110, Size: 3})

	select {
	case evt := <-sub:
		sealed := evt.Payload.(types.Bar)
		if sealed.Close != 100 {
			t.Fatalf("expected sealed bar close 100, got %f", sealed.Close)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sealed bar event within one second")
	}

	a.mu.Lock()
	newBar := a.inFlight["AAPL"]
	a.mu.Unlock()
	if newBar.Open != 110 {
		t.Fatalf("expected a fresh bar opened at 110, got %+v", newBar)
	}
}

func TestQuotesSchemaTagsLegacyAndZeroesVolume(t *testing.T) {
	bus := eventbus.New(16)
	a := New(bus, &fakeWriter{}, "quotes")

	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: time.Now(), Price: 100, Size: 50})

	a.mu.Lock()
	bar := a.inFlight["AAPL"]
	a.mu.Unlock()

	if bar.Source != types.BarSourceLegacy {
		t.Fatalf("expected legacy source under quotes schema, got %v", bar.Source)
	}
	if bar.Volume != 0 {
		t.Fatalf("expected zeroed volume under quotes schema, got %f", bar.Volume)
	}
}

func TestSealStaleFlushesIlliquidSymbol(t *testing.T) {
	bus := eventbus.New(16)
	writer := &fakeWriter{}
	a := New(bus, writer, "trades")

	old := time.Now().Add(-5 * time.Minute)
	a.OnTick(types.Tick{Symbol: "AAPL", EventTime: old, Price: 100, Size: 1})

	a.sealStale(time.Now())
	a.flushSealed(context.Background())

	if _, ok := a.inFlight["AAPL"]; ok {
		t.Fatal("stale bar should have been sealed out of in-flight")
	}
	if len(writer.batches) != 1 || len(writer.batches[0]) != 1 {
		t.Fatalf("expected one flushed batch of one bar, got %+v", writer.batches)
	}
}
