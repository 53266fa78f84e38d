package scale

import (
	"testing"
	"time"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/trade/ledger"
	"tradecopilot/internal/types"
)

type fakeStore struct{}

func (fakeStore) SavePosition(types.Position) error { return nil }

type fakePrices struct{ price float64 }

func (f *fakePrices) LastPrice(string) (float64, bool) { return f.price, true }

func testSpeeds() map[string]Speed {
	return map[string]Speed{
		"fast":   {Name: "fast", Chunks: 2, Duration: 20 * time.Millisecond},
		"medium": {Name: "medium", Chunks: 4, Duration: 40 * time.Millisecond},
		"slow":   {Name: "slow", Chunks: 8, Duration: 80 * time.Millisecond},
	}
}

// TestScaleoutClosesPositionOverChunks covers S2: a scaleout worker reduces
// an open position to zero over its configured chunk count, leaving no open
// position behind.
func TestScaleoutClosesPositionOverChunks(t *testing.T) {
	led := ledger.New(fakeStore{})
	led.Entry("u1", "AAPL", "s1", types.SideLong, 8, 100, time.Now())

	prices := &fakePrices{price: 110}
	bus := eventbus.New(16)
	mgr := New(led, prices, bus, testSpeeds())

	if err := mgr.StartScaleout("u1", "AAPL", "s1", "fast"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := led.Open("u1", "AAPL"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scaleout did not close the position in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, ok := led.Open("u1", "AAPL"); ok {
		t.Fatal("position should be fully closed after scaleout completes")
	}
}

// TestUnknownSpeedDefaultsToMedium covers the speed-lookup fallback used
// when a caller passes a name outside fast/medium/slow.
func TestUnknownSpeedDefaultsToMedium(t *testing.T) {
	led := ledger.New(fakeStore{})
	speeds := testSpeeds()
	mgr := New(led, &fakePrices{price: 100}, eventbus.New(16), speeds)

	got := mgr.speed("nonsense")
	if got.Name != "medium" {
		t.Fatalf("expected fallback to medium speed, got %+v", got)
	}
}

// TestCancelStopsWorkerBeforeCompletion exercises the cancel path: a
// cancelled worker must not fully close the position.
func TestCancelStopsWorkerBeforeCompletion(t *testing.T) {
	led := ledger.New(fakeStore{})
	pos, _, _ := led.Entry("u1", "AAPL", "s1", types.SideLong, 8, 100, time.Now())

	mgr := New(led, &fakePrices{price: 100}, eventbus.New(16), map[string]Speed{
		"slow": {Name: "slow", Chunks: 8, Duration: 2 * time.Second},
	})

	if err := mgr.StartScaleout("u1", "AAPL", "s1", "slow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.Cancel(pos.ID)

	time.Sleep(50 * time.Millisecond)
	remaining, ok := led.Open("u1", "AAPL")
	if !ok {
		t.Fatal("cancelled scaleout should leave the position open")
	}
	if remaining.Quantity <= 0 || remaining.Quantity > 8 {
		t.Fatalf("remaining quantity out of range: %f", remaining.Quantity)
	}
}
