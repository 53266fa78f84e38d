// Package eval is the Evaluation Recorder: for every Signal produced by
// either classifier, it persists a row and schedules four forward
// evaluations, scoring correctness against the Symbol State Store's
// last_price at each horizon. Grounded on the teacher's Analyzer.cleanup,
// whose 10-second ticker scans live state for stale entries; here the same
// scan cadence drains due pending evaluations instead.
package eval

import (
	"context"
	"log"
	"sync"
	"time"

	"tradecopilot/internal/types"
)

// PriceSource reads the current price of a symbol at evaluation time.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Recorder persists Signal and SignalEvaluation rows.
type Recorder interface {
	SaveSignal(types.Signal) error
	SaveEvaluation(types.SignalEvaluation) error
}

// horizon is one scheduled forward-looking check.
type horizon struct {
	after time.Duration
	field string // "2m", "5m", "10m", "30m"
}

var horizons = []horizon{
	{2 * time.Minute, "2m"},
	{5 * time.Minute, "5m"},
	{10 * time.Minute, "10m"},
	{30 * time.Minute, "30m"},
}

// pending is one signal awaiting its remaining horizons.
type pending struct {
	signal    types.Signal
	priceAt0  float64
	emittedAt time.Time
	evalState types.SignalEvaluation
	done      map[string]bool
}

// OutcomeSink is notified once a signal's correctness is known at a given
// horizon; Momo's reverse-psychology accuracy tracker is wired here.
type OutcomeSink interface {
	RecordOutcome(symbol string, emittedAt time.Time, correct bool)
}

// Evaluator scans for due pending signals on a fixed tick.
type Evaluator struct {
	prices    PriceSource
	recorder  Recorder
	threshold float64
	sinks     []OutcomeSink

	mu      sync.Mutex
	pending map[string]*pending // key: signal ID
}

// New constructs an Evaluator. moveThreshold is the minimum |pct| move
// required to call a horizon correct (default 0.003, i.e. 0.3%).
func New(prices PriceSource, recorder Recorder, moveThreshold float64, sinks ...OutcomeSink) *Evaluator {
	return &Evaluator{
		prices:    prices,
		recorder:  recorder,
		threshold: moveThreshold,
		sinks:     sinks,
		pending:   make(map[string]*pending),
	}
}

// Record is called for every signal a classifier generates, displayed or
// not; it persists the row and schedules the four forward evaluations.
func (e *Evaluator) Record(sig types.Signal) {
	if err := e.recorder.SaveSignal(sig); err != nil {
		log.Printf("eval: save signal error: %v", err)
	}

	price, ok := e.prices.LastPrice(sig.Symbol)
	if !ok {
		price = 0
	}

	e.mu.Lock()
	e.pending[sig.ID] = &pending{
		signal:    sig,
		priceAt0:  price,
		emittedAt: sig.EmitTime,
		evalState: types.SignalEvaluation{SignalID: sig.ID},
		done:      make(map[string]bool),
	}
	e.mu.Unlock()
}

// Run scans for due pending signals every 10 seconds until ctx is
// cancelled, per the background evaluator's fixed scan cadence.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.scan(now)
		}
	}
}

func (e *Evaluator) scan(now time.Time) {
	e.mu.Lock()
	due := make([]*pending, 0)
	for _, p := range e.pending {
		due = append(due, p)
	}
	e.mu.Unlock()

	for _, p := range due {
		e.evaluateOne(p, now)
	}
}

func (e *Evaluator) evaluateOne(p *pending, now time.Time) {
	anyNewlyDone := false

	for _, h := range horizons {
		if p.done[h.field] {
			continue
		}
		if now.Sub(p.emittedAt) < h.after {
			continue
		}

		if now.Sub(p.emittedAt) > 2*h.after {
			e.applyStale(p, h.field)
			p.done[h.field] = true
			anyNewlyDone = true
			continue
		}

		price, ok := e.prices.LastPrice(p.signal.Symbol)
		if !ok {
			continue
		}

		correct := e.judge(p.signal.Direction, p.priceAt0, price)
		e.applyOutcome(p, h.field, price, correct)
		p.done[h.field] = true
		anyNewlyDone = true

		for _, sink := range e.sinks {
			sink.RecordOutcome(p.signal.Symbol, p.emittedAt, correct)
		}

		if h.field == "30m" {
			p.evalState.FinalCorrect = &correct
		}
	}

	if !anyNewlyDone {
		return
	}

	if err := e.recorder.SaveEvaluation(p.evalState); err != nil {
		log.Printf("eval: save evaluation error: %v", err)
	}

	if len(p.done) == len(horizons) {
		e.mu.Lock()
		delete(e.pending, p.signal.ID)
		e.mu.Unlock()
	}
}

// judge implements the bullish/bearish correctness rule: a bullish signal
// is correct at a horizon if the move is >= +threshold; bearish symmetric
// with <= -threshold; a neutral signal or a move inside the band counts as
// "not correct" rather than "wrong" for accuracy purposes.
func (e *Evaluator) judge(dir types.Direction, priceEmit, priceHorizon float64) bool {
	if priceEmit == 0 {
		return false
	}
	pct := (priceHorizon - priceEmit) / priceEmit
	switch dir {
	case types.DirUp:
		return pct >= e.threshold
	case types.DirDown:
		return pct <= -e.threshold
	default:
		return false
	}
}

// applyStale marks a horizon missed by more than 2x its interval as skipped
// rather than judged: the evaluator was paused, restarted, or backlogged
// long enough that "current price" no longer means anything for this
// horizon, and scoring it would record a misleading outcome.
func (e *Evaluator) applyStale(p *pending, field string) {
	switch field {
	case "2m":
		p.evalState.Stale2m = true
	case "5m":
		p.evalState.Stale5m = true
	case "10m":
		p.evalState.Stale10m = true
	case "30m":
		p.evalState.Stale30m = true
	}
}

func (e *Evaluator) applyOutcome(p *pending, field string, price float64, correct bool) {
	c := correct
	switch field {
	case "2m":
		p.evalState.PriceAt2m = price
		p.evalState.Correct2m = &c
	case "5m":
		p.evalState.PriceAt5m = price
		p.evalState.Correct5m = &c
	case "10m":
		p.evalState.PriceAt10m = price
		p.evalState.Correct10m = &c
	case "30m":
		p.evalState.PriceAt30m = price
	}
}
