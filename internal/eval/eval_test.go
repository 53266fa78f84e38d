package eval

import (
	"testing"
	"time"

	"tradecopilot/internal/types"
)

type fakePrices struct{ price float64 }

func (f *fakePrices) LastPrice(string) (float64, bool) { return f.price, true }

type fakeRecorder struct {
	signals     []types.Signal
	evaluations []types.SignalEvaluation
}

func (f *fakeRecorder) SaveSignal(s types.Signal) error {
	f.signals = append(f.signals, s)
	return nil
}
func (f *fakeRecorder) SaveEvaluation(e types.SignalEvaluation) error {
	f.evaluations = append(f.evaluations, e)
	return nil
}

type fakeSink struct {
	outcomes []bool
}

func (f *fakeSink) RecordOutcome(symbol string, emittedAt time.Time, correct bool) {
	f.outcomes = append(f.outcomes, correct)
}

// TestCorrectCallAtTwoMinuteHorizon covers S5: a bullish signal scored
// against a price that moved up past the threshold by the 2m horizon is
// marked correct, and the outcome is forwarded to every sink.
func TestCorrectCallAtTwoMinuteHorizon(t *testing.T) {
	prices := &fakePrices{price: 100}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	e := New(prices, recorder, 0.003, sink)

	emittedAt := time.Now()
	e.Record(types.Signal{ID: "sig-1", Symbol: "AAPL", Direction: types.DirUp, EmitTime: emittedAt})

	prices.price = 101 // +1%, past the 0.3% threshold
	e.scan(emittedAt.Add(3 * time.Minute))

	if len(recorder.evaluations) != 1 {
		t.Fatalf("expected one evaluation row to be saved, got %d", len(recorder.evaluations))
	}
	got := recorder.evaluations[0]
	if got.Correct2m == nil || !*got.Correct2m {
		t.Fatalf("expected 2m horizon to be marked correct, got %+v", got)
	}
	if len(sink.outcomes) != 1 || !sink.outcomes[0] {
		t.Fatalf("expected sink to observe one correct outcome, got %+v", sink.outcomes)
	}
}

func TestIncorrectCallBelowThreshold(t *testing.T) {
	prices := &fakePrices{price: 100}
	recorder := &fakeRecorder{}
	e := New(prices, recorder, 0.003)

	emittedAt := time.Now()
	e.Record(types.Signal{ID: "sig-1", Symbol: "AAPL", Direction: types.DirUp, EmitTime: emittedAt})

	prices.price = 100.05 // well under the 0.3% threshold
	e.scan(emittedAt.Add(3 * time.Minute))

	got := recorder.evaluations[0]
	if got.Correct2m == nil || *got.Correct2m {
		t.Fatalf("expected 2m horizon to be marked incorrect, got %+v", got)
	}
}

// TestPendingSignalClearedAfterFinalHorizon ensures a fully-evaluated
// signal is dropped from the pending set so it is never rescored.
func TestPendingSignalClearedAfterFinalHorizon(t *testing.T) {
	prices := &fakePrices{price: 100}
	recorder := &fakeRecorder{}
	e := New(prices, recorder, 0.003)

	emittedAt := time.Now()
	e.Record(types.Signal{ID: "sig-1", Symbol: "AAPL", Direction: types.DirUp, EmitTime: emittedAt})

	prices.price = 105
	e.scan(emittedAt.Add(31 * time.Minute))

	e.mu.Lock()
	_, stillPending := e.pending["sig-1"]
	e.mu.Unlock()
	if stillPending {
		t.Fatal("expected signal to be cleared from pending after its final horizon")
	}

	finalEval := recorder.evaluations[len(recorder.evaluations)-1]
	if finalEval.FinalCorrect == nil || !*finalEval.FinalCorrect {
		t.Fatalf("expected FinalCorrect to be set at the 30m horizon, got %+v", finalEval)
	}
}

// TestHorizonMissedByOverTwiceItsIntervalIsMarkedStale covers the
// EvaluationStale outcome: a horizon scanned long after the evaluator fell
// behind (paused/restarted/backlogged) is skipped rather than judged
// against whatever price happens to be current by then.
func TestHorizonMissedByOverTwiceItsIntervalIsMarkedStale(t *testing.T) {
	prices := &fakePrices{price: 100}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	e := New(prices, recorder, 0.003, sink)

	emittedAt := time.Now()
	e.Record(types.Signal{ID: "sig-1", Symbol: "AAPL", Direction: types.DirUp, EmitTime: emittedAt})

	prices.price = 110 // well past threshold, but the scan is far too late
	// 4m30s is more than twice the 2m horizon, and still short of the 5m one.
	e.scan(emittedAt.Add(4*time.Minute + 30*time.Second))

	got := recorder.evaluations[0]
	if !got.Stale2m {
		t.Fatalf("expected 2m horizon to be marked stale, got %+v", got)
	}
	if got.Correct2m != nil {
		t.Fatalf("expected a stale horizon to not be judged, got %+v", got)
	}
	if len(sink.outcomes) != 0 {
		t.Fatalf("expected no outcome sink notification for a stale horizon, got %+v", sink.outcomes)
	}
}

func TestNeutralDirectionNeverCountsAsCorrect(t *testing.T) {
	prices := &fakePrices{price: 100}
	recorder := &fakeRecorder{}
	e := New(prices, recorder, 0.003)

	emittedAt := time.Now()
	e.Record(types.Signal{ID: "sig-1", Symbol: "AAPL", Direction: types.DirNeutral, EmitTime: emittedAt})

	prices.price = 150 // huge move, but direction is neutral
	e.scan(emittedAt.Add(3 * time.Minute))

	got := recorder.evaluations[0]
	if got.Correct2m == nil || *got.Correct2m {
		t.Fatalf("expected a neutral-direction signal to never be marked correct, got %+v", got)
	}
}
