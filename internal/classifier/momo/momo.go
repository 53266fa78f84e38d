// Package momo implements the Momo (Momentum) classifier: seven-timeframe
// alignment, VWAP distance zone, leg segmentation, time-of-day period, a
// synthetic shadow accumulation tracker, and a reverse-psychology rule that
// inverts low-accuracy periods. Grounded on the teacher's TrendAnalyzer
// (multi-timeframe percent-change/RSI scan) and ScalpSignalEngine's strict
// cross-timeframe alignment check.
package momo

import (
	"math"
	"time"

	"github.com/google/uuid"

	"tradecopilot/internal/classifier"
	"tradecopilot/internal/types"
)

const warmupBars = 20

// TimeOfDayPeriod names a session segment used for confidence adjustment
// and the reverse-psychology accuracy tracker.
type TimeOfDayPeriod string

const (
	PeriodPremarketEarly     TimeOfDayPeriod = "premarket-early"
	PeriodPremarketPullback  TimeOfDayPeriod = "premarket-pullback"
	PeriodMorningRun         TimeOfDayPeriod = "morning-run"
	PeriodLunchChop          TimeOfDayPeriod = "lunch-chop"
	PeriodPowerHour          TimeOfDayPeriod = "power-hour"
	PeriodClose              TimeOfDayPeriod = "close"
	PeriodAfterHours         TimeOfDayPeriod = "after-hours"
)

// ClassifyTimeOfDay buckets a wall-clock time (assumed already in the
// exchange's local timezone) into a named session period.
func ClassifyTimeOfDay(t time.Time) TimeOfDayPeriod {
	h, m, _ := t.Clock()
	mins := h*60 + m
	switch {
	case mins < 8*60+30:
		return PeriodPremarketEarly
	case mins < 9*60+30:
		return PeriodPremarketPullback
	case mins < 10*60+30:
		return PeriodMorningRun
	case mins < 13*60:
		return PeriodLunchChop
	case mins < 15*60:
		return PeriodPowerHour
	case mins < 16*60:
		return PeriodClose
	default:
		return PeriodAfterHours
	}
}

// VWAPZone names the distance band from VWAP used as momentum context.
type VWAPZone string

const (
	ZoneDeepValue VWAPZone = "deep_value"
	ZoneValue     VWAPZone = "value"
	ZoneFair      VWAPZone = "fair"
	ZoneExtended  VWAPZone = "extended"
	ZoneExtreme   VWAPZone = "extreme"
)

func classifyVWAPZone(pctFromVWAP float64) VWAPZone {
	switch {
	case pctFromVWAP < -0.05:
		return ZoneDeepValue
	case pctFromVWAP < -0.02:
		return ZoneValue
	case pctFromVWAP <= 0.02:
		return ZoneFair
	case pctFromVWAP <= 0.05:
		return ZoneExtended
	default:
		return ZoneExtreme
	}
}

// Action is the recommended stance Momo maps stars+zone onto.
type Action string

const (
	ActionStrongBuy  Action = "STRONG_BUY"
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionStrongSell Action = "STRONG_SELL"
	ActionWait       Action = "WAIT"
)

// shadowEntry is one hypothetical accumulation entry in the synthetic
// shadow tracker.
type shadowEntry struct {
	price float64
	at    time.Time
}

// periodAccuracy tracks the last 50 signal outcomes per time-of-day period
// for the reverse-psychology rule.
type periodAccuracy struct {
	outcomes map[TimeOfDayPeriod][]bool // true = correct
}

func newPeriodAccuracy() *periodAccuracy {
	return &periodAccuracy{outcomes: make(map[TimeOfDayPeriod][]bool)}
}

func (p *periodAccuracy) record(period TimeOfDayPeriod, correct bool) {
	hist := append(p.outcomes[period], correct)
	if len(hist) > 50 {
		hist = hist[len(hist)-50:]
	}
	p.outcomes[period] = hist
}

func (p *periodAccuracy) rate(period TimeOfDayPeriod) (float64, bool) {
	hist := p.outcomes[period]
	if len(hist) < 10 {
		return 0, false // not enough samples to judge
	}
	correct := 0
	for _, c := range hist {
		if c {
			correct++
		}
	}
	return float64(correct) / float64(len(hist)), true
}

// Engine is one (symbol) Momo worker.
type Engine struct {
	symbol string
	buf    *classifier.BarBuffer
	sticky classifier.StickyFilter

	yesterdayClose float64
	premarketOpen  float64
	todayOpen      float64

	shadow      []shadowEntry
	lastShadowP float64

	accuracy *periodAccuracy

	barIndex int
}

// New constructs a Momo engine for symbol.
func New(symbol string) *Engine {
	return &Engine{
		symbol:   symbol,
		buf:      classifier.NewBarBuffer(200),
		accuracy: newPeriodAccuracy(),
	}
}

// SeedOpens installs the fixed reference prices used by the percent-change
// timeframes (yesterday's close, premarket open, today's regular open).
func (e *Engine) SeedOpens(yesterdayClose, premarketOpen, todayOpen float64) {
	e.yesterdayClose, e.premarketOpen, e.todayOpen = yesterdayClose, premarketOpen, todayOpen
}

// RecordOutcome feeds back a scored evaluation for the reverse-psychology
// accuracy tracker; called by the evaluation recorder once a signal's
// horizon has resolved.
func (e *Engine) RecordOutcome(emittedAt time.Time, correct bool) {
	e.accuracy.record(ClassifyTimeOfDay(emittedAt), correct)
}

// Unsubscribe clears sticky and shadow state.
func (e *Engine) Unsubscribe() {
	e.sticky.Clear()
	e.shadow = nil
}

// OnBar folds a sealed bar in and, once warmup elapses, produces a signal.
func (e *Engine) OnBar(bar types.Bar, now time.Time, recorder func(types.Signal)) {
	e.buf.Push(bar)
	e.barIndex++
	e.updateShadow(bar)

	if e.buf.Len() < warmupBars {
		return
	}

	sig, _ := e.classify(bar, now)
	publish, reason := e.sticky.Decide(sig)
	sig.Displayed = publish
	if !publish {
		sig.FilterReason = reason
	}
	e.sticky.Record(sig)

	if recorder != nil {
		recorder(sig)
	}
}

func (e *Engine) updateShadow(bar types.Bar) {
	if e.lastShadowP == 0 || bar.Close < e.lastShadowP {
		e.shadow = append(e.shadow, shadowEntry{price: bar.Close, at: bar.MinuteStart})
		e.lastShadowP = bar.Close
	}
}

// shadowConfidence rewards a run of repeatedly lower hypothetical entries
// as evidence that support is being found.
func (e *Engine) shadowConfidence() float64 {
	if len(e.shadow) < 2 {
		return 0
	}
	streak := 0
	for i := len(e.shadow) - 1; i > 0; i-- {
		if e.shadow[i].price < e.shadow[i-1].price {
			streak++
		} else {
			break
		}
	}
	return math.Min(1, float64(streak)/5)
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from
}

func (e *Engine) classify(bar types.Bar, now time.Time) (types.Signal, Action) {
	bars := e.buf.Bars()
	price := bar.Close

	tf := map[string]float64{
		"yesterday_close": pctChange(e.yesterdayClose, price),
		"premarket":       pctChange(e.premarketOpen, price),
		"open_to_now":     pctChange(e.todayOpen, price),
		"1h":              pctChange(barAt(bars, 60).Close, price),
		"15m":             pctChange(barAt(bars, 15).Close, price),
		"5m":              pctChange(barAt(bars, 5).Close, price),
		"1m":              pctChange(barAt(bars, 1).Close, price),
	}

	pos, neg := 0, 0
	for _, v := range tf {
		switch {
		case v > 0:
			pos++
		case v < 0:
			neg++
		}
	}
	stars := pos
	dir := types.DirUp
	if neg > pos {
		stars = neg
		dir = types.DirDown
	}

	vwap := approximateVWAP(bars)
	zone := classifyVWAPZone(pctChange(vwap, price))
	period := ClassifyTimeOfDay(now)
	legIndex, nextLegProb := detectLeg(bars)

	action := mapAction(stars, dir, zone, pos, neg)

	confidence := float64(stars) / 7
	switch period {
	case PeriodMorningRun:
		confidence *= 1.10
	case PeriodLunchChop:
		confidence *= 0.85
	}
	if stars == 7 {
		confidence *= 1.10
	}
	confidence += e.shadowConfidence() * 0.1

	if rate, ok := e.accuracy.rate(period); ok && rate < 0.35 {
		dir = invert(dir)
		action = invertAction(action)
	}

	grade := int(math.Round(math.Min(10, math.Max(1, confidence*10))))
	starsOut := stars
	if starsOut < 5 {
		starsOut = 5
	}
	if starsOut > 7 {
		starsOut = 7
	}

	sig := types.Signal{
		ID:         uuid.NewString(),
		Symbol:     e.symbol,
		BarIndex:   e.barIndex,
		EmitTime:   now,
		Classifier: types.ClassifierMomo,
		Direction:  dir,
		Stars:      starsOut,
		Grade:      grade,
		Confidence: confidence,
		Features: map[string]any{
			"timeframes": tf, "vwap_zone": zone, "period": period,
			"action": action, "shadow_confidence": e.shadowConfidence(),
			"leg_index": legIndex, "next_leg_probability": nextLegProb,
		},
	}
	return sig, action
}

func mapAction(stars int, dir types.Direction, zone VWAPZone, pos, neg int) Action {
	switch {
	case stars >= 6 && dir == types.DirUp && (zone == ZoneValue || zone == ZoneDeepValue):
		return ActionStrongBuy
	case stars == 5 && dir == types.DirUp && zone != ZoneExtreme:
		return ActionBuy
	case neg >= 3 && dir == types.DirUp && zone == ZoneExtreme:
		return ActionSell
	case stars >= 6 && dir == types.DirDown && (zone == ZoneExtended || zone == ZoneExtreme):
		return ActionStrongSell
	case stars == 5 && dir == types.DirDown && zone != ZoneExtreme:
		return ActionSell
	case pos >= 3 && dir == types.DirDown && zone == ZoneExtreme:
		return ActionBuy
	default:
		return ActionWait
	}
}

func invert(d types.Direction) types.Direction {
	switch d {
	case types.DirUp:
		return types.DirDown
	case types.DirDown:
		return types.DirUp
	default:
		return d
	}
}

func invertAction(a Action) Action {
	switch a {
	case ActionStrongBuy:
		return ActionStrongSell
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	case ActionStrongSell:
		return ActionStrongBuy
	default:
		return a
	}
}

// legProbabilities is the decay schedule for "probability the current leg
// continues" by leg number (1-indexed); the schedule repeats its final
// value for legs beyond what is enumerated.
var legProbabilities = []float64{0.85, 0.65, 0.45, 0.25, 0.10}

// detectLeg segments the recent swing structure into numbered legs by
// counting direction reversals (a new leg starts each time the short-run
// slope of closes flips sign) and returns the current leg number plus its
// next-leg continuation probability from the decay schedule.
func detectLeg(bars []types.Bar) (legIndex int, nextLegProbability float64) {
	n := len(bars)
	if n < 3 {
		return 1, legProbabilities[0]
	}

	legIndex = 1
	risingPrev := bars[1].Close >= bars[0].Close
	for i := 2; i < n; i++ {
		rising := bars[i].Close >= bars[i-1].Close
		if rising != risingPrev {
			legIndex++
			risingPrev = rising
		}
	}

	idx := legIndex - 1
	if idx >= len(legProbabilities) {
		idx = len(legProbabilities) - 1
	}
	return legIndex, legProbabilities[idx]
}

// barAt returns the bar minutesAgo bars back from the latest, or the
// oldest available bar if the buffer is shorter.
func barAt(bars []types.Bar, minutesAgo int) types.Bar {
	n := len(bars)
	idx := n - 1 - minutesAgo
	if idx < 0 {
		idx = 0
	}
	return bars[idx]
}

// approximateVWAP computes a volume-weighted average price over the
// buffered window; bars with zero volume (legacy/quote-only) are excluded
// per the conservative choice to keep Momo's volume-normalized features
// off quote-only bars.
func approximateVWAP(bars []types.Bar) float64 {
	var pv, v float64
	for _, b := range bars {
		if b.IsLegacy() || b.Volume == 0 {
			continue
		}
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		v += b.Volume
	}
	if v == 0 && len(bars) > 0 {
		return bars[len(bars)-1].Close
	}
	return pv / v
}
