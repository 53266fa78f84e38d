// Package screener is the Alert Screener: it watches symbol-state updates
// for threshold crossings against a configurable baseline and emits
// append-only Alert records, de-duplicated until the move resets or a
// cool-down elapses. Grounded on the teacher's lastAlertTime debounce maps
// in the Analyzer.
package screener

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/types"
)

const coolDown = 15 * time.Minute

// baselineFn extracts the percent-move figure a given AlertKind watches.
type baselineFn func(types.SymbolState) float64

var baselines = map[types.AlertKind]baselineFn{
	types.AlertPctFromYesterday: func(s types.SymbolState) float64 { return s.PctFromYesterday },
	types.AlertPctFromOpen: func(s types.SymbolState) float64 {
		if s.TodayOpen == 0 {
			return 0
		}
		return (s.LastPrice - s.TodayOpen) / s.TodayOpen
	},
	types.AlertPctFrom15m: func(s types.SymbolState) float64 { return s.PctFrom15m },
}

type fireRecord struct {
	firedAt time.Time
	armed   bool // true while suppressed (waiting for reset band or cool-down)
}

// Screener evaluates every symbol-state update against one or more
// configured (kind, threshold) watches.
type Screener struct {
	bus       *eventbus.Bus
	threshold float64
	kinds     []types.AlertKind

	mu      sync.Mutex
	fired   map[string]fireRecord // key: symbol|kind
}

// New constructs a Screener watching the given alert kinds at threshold
// (default 0.03, i.e. 3%).
func New(bus *eventbus.Bus, threshold float64, kinds ...types.AlertKind) *Screener {
	if len(kinds) == 0 {
		kinds = []types.AlertKind{types.AlertPctFromYesterday}
	}
	return &Screener{
		bus:       bus,
		threshold: threshold,
		kinds:     kinds,
		fired:     make(map[string]fireRecord),
	}
}

// Evaluate is called on every symbol-state update; it fires at most one
// Alert per (symbol, kind) per crossing episode.
func (sc *Screener) Evaluate(state types.SymbolState, now time.Time) {
	for _, kind := range sc.kinds {
		fn, ok := baselines[kind]
		if !ok {
			continue
		}
		pct := fn(state)
		sc.evaluateOne(state, kind, pct, now)
	}
}

func (sc *Screener) evaluateOne(state types.SymbolState, kind types.AlertKind, pct float64, now time.Time) {
	abs := pct
	if abs < 0 {
		abs = -abs
	}
	key := state.Symbol + "|" + string(kind)
	resetBand := sc.threshold / 2

	sc.mu.Lock()
	rec, seen := sc.fired[key]
	defer sc.mu.Unlock()

	if seen && rec.armed {
		// Currently suppressed: re-arm if the move has reset below half the
		// trigger, or the cool-down window has elapsed.
		if abs < resetBand || now.Sub(rec.firedAt) >= coolDown {
			sc.fired[key] = fireRecord{armed: false}
		}
		return
	}

	if abs < sc.threshold {
		return
	}

	alert := types.Alert{
		ID:           uuid.NewString(),
		Symbol:       state.Symbol,
		Kind:         kind,
		TriggerPrice: state.LastPrice,
		TriggerTime:  now,
		Conditions:   map[string]any{"pct": pct, "threshold": sc.threshold},
	}
	sc.fired[key] = fireRecord{firedAt: now, armed: true}
	sc.bus.Publish(eventbus.TopicAlert, alert)
}
