package executor

import (
	"testing"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/trade/ledger"
	"tradecopilot/internal/trade/registry"
	"tradecopilot/internal/types"
)

type fakeStore struct{}

func (fakeStore) SavePosition(types.Position) error { return nil }

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) LastPrice(symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

type fakeScaler struct {
	scaleoutCalls int
	lastSpeed     string
}

func (f *fakeScaler) StartScaleout(userID, symbol, sessionID, speed string) error {
	f.scaleoutCalls++
	f.lastSpeed = speed
	return nil
}
func (f *fakeScaler) StartScalein(userID, symbol, sessionID, speed string, totalQty float64) error {
	return nil
}

func newTestExecutor(prices map[string]float64) (*Executor, *fakeScaler) {
	reg := registry.New()
	reg.Load([]types.Command{
		{Name: "long", HandlerKey: "long", Implemented: true, Aliases: []string{"long"}},
		{Name: "short", HandlerKey: "short", Implemented: true, Aliases: []string{"short"}},
		{Name: "close", HandlerKey: "close", Implemented: true, Aliases: []string{"close"}},
		{Name: "reverse", HandlerKey: "reverse", Implemented: true, Aliases: []string{"reverse"}},
		{Name: "reverse_smart", HandlerKey: "reverse_smart", Implemented: true, Aliases: []string{"smart reverse"}},
		{Name: "stop", HandlerKey: "stop", Implemented: true, Aliases: []string{"stop"}},
		{Name: "pos", HandlerKey: "pos", Implemented: true, Aliases: []string{"pos"}},
		{Name: "reset", HandlerKey: "reset", Implemented: true, Aliases: []string{"reset"}},
	})

	led := ledger.New(fakeStore{})
	bus := eventbus.New(16)
	scaler := &fakeScaler{}
	exec := New(reg, led, &fakePrices{prices: prices}, bus, scaler)
	return exec, scaler
}

// TestDuplicateEntryAveragesNotDoubles covers S1: sending "long" twice for
// the same user/symbol averages into one position instead of opening two.
func TestDuplicateEntryAveragesNotDoubles(t *testing.T) {
	exec, _ := newTestExecutor(map[string]float64{"AAPL": 100})

	exec.Dispatch("u1", "AAPL", "long")
	resp := exec.Dispatch("u1", "AAPL", "long")

	pos, ok := exec.ledger.Open("u1", "AAPL")
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Quantity != 2 {
		t.Fatalf("expected averaged quantity 2 after two long commands, got %f (resp: %s)", pos.Quantity, resp.Text)
	}
}

// TestCloseWithNoPositionIsValidationError covers S3: closing with nothing
// open returns a validation error rather than mutating any state.
func TestCloseWithNoPositionIsValidationError(t *testing.T) {
	exec, _ := newTestExecutor(map[string]float64{"AAPL": 100})

	resp := exec.Dispatch("u1", "AAPL", "close")
	if resp.Error != ErrValidation {
		t.Fatalf("expected validation error, got %q (text: %s)", resp.Error, resp.Text)
	}
}

// TestSmartReverseBlockedPastTenPercentLoss covers S6: a smart reverse is
// refused once the open position's unrealized loss exceeds 10%.
func TestSmartReverseBlockedPastTenPercentLoss(t *testing.T) {
	exec, _ := newTestExecutor(map[string]float64{"AAPL": 100})
	exec.Dispatch("u1", "AAPL", "long")

	exec.prices.(*fakePrices).prices["AAPL"] = 89 // 11% underwater on a long

	resp := exec.Dispatch("u1", "AAPL", "smart reverse")
	if resp.Error != ErrValidation {
		t.Fatalf("expected smart reverse to be blocked, got %+v", resp)
	}
	pos, ok := exec.ledger.Open("u1", "AAPL")
	if !ok || pos.Side != types.SideLong {
		t.Fatalf("position should remain long after a blocked smart reverse: %+v ok=%v", pos, ok)
	}
}

func TestReverseFlipsSideAndRealizes(t *testing.T) {
	exec, _ := newTestExecutor(map[string]float64{"AAPL": 100})
	exec.Dispatch("u1", "AAPL", "long")

	exec.prices.(*fakePrices).prices["AAPL"] = 110
	resp := exec.Dispatch("u1", "AAPL", "reverse")
	if resp.Error != "" {
		t.Fatalf("unexpected error: %+v", resp)
	}

	pos, ok := exec.ledger.Open("u1", "AAPL")
	if !ok || pos.Side != types.SideShort {
		t.Fatalf("expected a new short position after reverse, got %+v ok=%v", pos, ok)
	}
}

func TestScaleoutSpeedParsedFromCommandText(t *testing.T) {
	exec, scaler := newTestExecutor(map[string]float64{"AAPL": 100})
	exec.Dispatch("u1", "AAPL", "long")

	exec.Dispatch("u1", "AAPL", "scale out fast")

	if scaler.scaleoutCalls != 1 {
		t.Fatalf("expected scaleout to be started once, got %d calls", scaler.scaleoutCalls)
	}
	if scaler.lastSpeed != "fast" {
		t.Fatalf("expected speed 'fast' parsed from command text, got %q", scaler.lastSpeed)
	}
}

func TestScaleoutDefaultsToMediumSpeed(t *testing.T) {
	exec, scaler := newTestExecutor(map[string]float64{"AAPL": 100})
	exec.Dispatch("u1", "AAPL", "long")

	exec.Dispatch("u1", "AAPL", "scale out")

	if scaler.lastSpeed != "medium" {
		t.Fatalf("expected default speed 'medium', got %q", scaler.lastSpeed)
	}
}

func TestUnrecognizedCommandIsValidationError(t *testing.T) {
	exec, _ := newTestExecutor(map[string]float64{"AAPL": 100})
	resp := exec.Dispatch("u1", "AAPL", "do a backflip")
	if resp.Error != ErrValidation {
		t.Fatalf("expected validation error for unrecognized text, got %+v", resp)
	}
}

func TestResetStartsNewSessionZeroingMasterPnL(t *testing.T) {
	exec, _ := newTestExecutor(map[string]float64{"AAPL": 100})
	exec.Dispatch("u1", "AAPL", "long")
	exec.prices.(*fakePrices).prices["AAPL"] = 150
	exec.Dispatch("u1", "AAPL", "close")

	before := exec.Dispatch("u1", "AAPL", "pos")
	if before.Data["master_pnl"].(float64) <= 0 {
		t.Fatalf("expected nonzero master_pnl before reset, got %+v", before.Data)
	}

	exec.Dispatch("u1", "AAPL", "reset")
	after := exec.Dispatch("u1", "AAPL", "pos")
	if after.Data["master_pnl"].(float64) != 0 {
		t.Fatalf("expected master_pnl reset to zero, got %+v", after.Data)
	}
}
