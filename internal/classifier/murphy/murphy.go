// Package murphy implements the Murphy (Smart Money Concepts) classifier:
// break-of-structure, change-of-character, fair-value-gap, liquidity-sweep,
// rejection-wick, and pattern detection over a rolling bar window, combined
// into a starred/graded Signal and gated through a sticky publication
// filter. Grounded on the teacher's TrendAnalyzer for the technical-
// indicator calculation style (EMA/RSI over a kline window) and its
// SignalFilter for the sticky/cooldown publication shape.
package murphy

import (
	"math"
	"time"

	"github.com/google/uuid"

	"tradecopilot/internal/classifier"
	"tradecopilot/internal/types"
)

const (
	warmupBars     = 20
	historyBars    = 100
	swingLookback  = 50
	trendLookback  = 15
	sweepLookback  = 10
	rvolLookback   = 20
)

// Engine is one (symbol) Murphy worker: owns a bar buffer and sticky cell.
type Engine struct {
	symbol string
	buf    *classifier.BarBuffer
	sticky classifier.StickyFilter

	// LevelPrice, if set by a caller (e.g. from a user-specified support/
	// resistance level), overrides auto-detection.
	levelOverride     float64
	hasLevelOverride  bool

	barIndex int
}

// New constructs a Murphy engine for symbol.
func New(symbol string) *Engine {
	return &Engine{symbol: symbol, buf: classifier.NewBarBuffer(historyBars)}
}

// SetLevel pins level_price explicitly, bypassing swing auto-detection.
func (e *Engine) SetLevel(price float64) {
	e.levelOverride, e.hasLevelOverride = price, true
}

// Unsubscribe clears sticky state; called when the symbol subscription is
// torn down.
func (e *Engine) Unsubscribe() { e.sticky.Clear() }

// OnBar folds a newly sealed bar into the buffer and, once warmup has
// elapsed, produces and records a signal candidate (published or not).
// The recorder callback is invoked for every generated signal, displayed
// or filtered, feeding the Evaluation Recorder.
func (e *Engine) OnBar(bar types.Bar, now time.Time, recorder func(types.Signal)) {
	e.buf.Push(bar)
	e.barIndex++

	if e.buf.Len() < warmupBars {
		return
	}

	sig := e.classify(bar, now)
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

func (e *Engine) classify(bar types.Bar, now time.Time) types.Signal {
	bars := e.buf.Bars()
	level, hasLevel := e.level(bars, bar.Close)

	bos, bosDir := detectBoS(bars, level, hasLevel)
	trendUp := priorTrendUp(bars)
	choch := bos && ((bosDir == types.DirUp) == !trendUp) && bosDir != types.DirNeutral

	fvgDir, fvgFilled := detectFVG(bars)
	sweep := hasLevel && detectLiquiditySweep(bars, level)
	rejection, rejDir := detectRejection(bar, level, hasLevel)
	pattern, patDir := detectPattern(bars)
	rvol := relativeVolume(bars)

	stars := 0
	grade := 1
	confidences := []float64{}
	dir := types.DirNeutral

	if bos {
		stars++
		confidences = append(confidences, featureConfidence(7, rvol))
		dir = bosDir
	}
	if choch {
		stars++
		confidences = append(confidences, featureConfidence(8, rvol))
	}
	if fvgDir != types.DirNeutral && !fvgFilled {
		stars++
		confidences = append(confidences, featureConfidence(6, rvol))
		if dir == types.DirNeutral {
			dir = fvgDir
		}
	}
	if sweep {
		stars++
		confidences = append(confidences, featureConfidence(7, rvol))
	}
	if rejection {
		confidences = append(confidences, featureConfidence(6, rvol))
		if dir == types.DirNeutral {
			dir = rejDir
		}
	}
	if pattern {
		confidences = append(confidences, featureConfidence(5, rvol))
		if dir == types.DirNeutral {
			dir = patDir
		}
	}

	if stars > 4 {
		stars = 4
	}

	qualityScore := math.Min(10, float64(e.buf.Len())/2)
	best := 0.0
	for _, c := range confidences {
		if c > best {
			best = c
		}
	}
	confidence := (qualityScore + best) / 2

	confluenceBonus := 1.0
	if bos && fvgDir != types.DirNeutral && !fvgFilled {
		confluenceBonus = 1.2
	}
	if confluenceBonus == 1.2 && rvol >= 1.5 {
		confluenceBonus = 1.3
	}
	confidence *= confluenceBonus
	grade = int(math.Round(math.Min(10, confidence)))
	if grade < 1 {
		grade = 1
	}

	sig := types.Signal{
		ID:         uuid.NewString(),
		Symbol:     e.symbol,
		BarIndex:   e.barIndex,
		EmitTime:   now,
		Classifier: types.ClassifierMurphy,
		Direction:  dir,
		Stars:      stars,
		Grade:      grade,
		Confidence: confidence,
		Features: map[string]any{
			"bos": bos, "choch": choch, "fvg_dir": fvgDir, "fvg_filled": fvgFilled,
			"sweep": sweep, "rejection": rejection, "pattern": pattern, "rvol": rvol,
		},
	}
	if hasLevel {
		sig.LevelPrice, sig.HasLevel = level, true
	}
	return sig
}

// level resolves level_price: the explicit override if set, else the
// nearest swing level found within a 50-bar lookback.
func (e *Engine) level(bars []types.Bar, currentPrice float64) (float64, bool) {
	if e.hasLevelOverride {
		return e.levelOverride, true
	}
	return nearestSwing(bars, currentPrice)
}

// nearestSwing finds the swing-high/low nearest to currentPrice within the
// last swingLookback bars. A swing-high bar's high exceeds the highs of
// the two bars on each side; swing-low is symmetric.
func nearestSwing(bars []types.Bar, currentPrice float64) (float64, bool) {
	start := 0
	if len(bars) > swingLookback {
		start = len(bars) - swingLookback
	}
	window := bars[start:]

	var best float64
	haveBest := false
	consider := func(level float64) {
		if !haveBest || math.Abs(level-currentPrice) < math.Abs(best-currentPrice) {
			best, haveBest = level, true
		}
	}

	for i := 2; i < len(window)-2; i++ {
		h := window[i].High
		if h > window[i-1].High && h > window[i-2].High && h > window[i+1].High && h > window[i+2].High {
			consider(h)
		}
		l := window[i].Low
		if l < window[i-1].Low && l < window[i-2].Low && l < window[i+1].Low && l < window[i+2].Low {
			consider(l)
		}
	}
	return best, haveBest
}

func detectBoS(bars []types.Bar, level float64, hasLevel bool) (bool, types.Direction) {
	if !hasLevel || len(bars) == 0 {
		return false, types.DirNeutral
	}
	last := bars[len(bars)-1]
	// A break of structure is the latest close above (up) or below (down)
	// the level.
	if last.Close > level {
		return true, types.DirUp
	}
	if last.Close < level {
		return true, types.DirDown
	}
	return false, types.DirNeutral
}

// priorTrendUp reports the trend direction over the last 10-20 bars,
// excluding the most recent bar, used to judge CHoCH.
func priorTrendUp(bars []types.Bar) bool {
	n := len(bars)
	if n < 2 {
		return true
	}
	lookback := trendLookback
	if n-1 < lookback {
		lookback = n - 1
	}
	start := n - 1 - lookback
	if start < 0 {
		start = 0
	}
	return bars[n-2].Close >= bars[start].Close
}

// detectFVG finds a three-bar Fair Value Gap ending at the latest bar.
func detectFVG(bars []types.Bar) (types.Direction, bool) {
	n := len(bars)
	if n < 3 {
		return types.DirNeutral, false
	}
	i := n - 3
	a, _, c := bars[i], bars[i+1], bars[i+2]
	if a.High < c.Low {
		filled := c.Close < a.High
		return types.DirUp, filled
	}
	if a.Low > c.High {
		filled := c.Close > a.Low
		return types.DirDown, filled
	}
	return types.DirNeutral, false
}

// detectLiquiditySweep reports a brief penetration of level that reverses
// within 2 bars, within the last 10 bars.
func detectLiquiditySweep(bars []types.Bar, level float64) bool {
	n := len(bars)
	start := 0
	if n > sweepLookback {
		start = n - sweepLookback
	}
	for i := start; i < n-2; i++ {
		penetratedUp := bars[i].High > level && bars[i].Close < level
		penetratedDown := bars[i].Low < level && bars[i].Close > level
		if !penetratedUp && !penetratedDown {
			continue
		}
		for j := i + 1; j <= i+2 && j < n; j++ {
			if penetratedUp && bars[j].Close < level {
				return true
			}
			if penetratedDown && bars[j].Close > level {
				return true
			}
		}
	}
	return false
}

// detectRejection reports a wick beyond level at least 2x the body size,
// opposite the close.
func detectRejection(bar types.Bar, level float64, hasLevel bool) (bool, types.Direction) {
	if !hasLevel {
		return false, types.DirNeutral
	}
	body := math.Abs(bar.Close - bar.Open)
	if body == 0 {
		body = 0.0001
	}
	upperWick := bar.High - math.Max(bar.Open, bar.Close)
	lowerWick := math.Min(bar.Open, bar.Close) - bar.Low

	if bar.High > level && upperWick >= 2*body && bar.Close < level {
		return true, types.DirDown
	}
	if bar.Low < level && lowerWick >= 2*body && bar.Close > level {
		return true, types.DirUp
	}
	return false, types.DirNeutral
}

// detectPattern finds three consecutive monotonic closes.
func detectPattern(bars []types.Bar) (bool, types.Direction) {
	n := len(bars)
	if n < 3 {
		return false, types.DirNeutral
	}
	a, b, c := bars[n-3], bars[n-2], bars[n-1]
	if a.Close < b.Close && b.Close < c.Close {
		return true, types.DirUp
	}
	if a.Close > b.Close && b.Close > c.Close {
		return true, types.DirDown
	}
	return false, types.DirNeutral
}

// relativeVolume is current volume / mean volume over the last 20 bars.
func relativeVolume(bars []types.Bar) float64 {
	n := len(bars)
	if n < rvolLookback+1 {
		return 1
	}
	sum := 0.0
	for i := n - 1 - rvolLookback; i < n-1; i++ {
		sum += bars[i].Volume
	}
	mean := sum / rvolLookback
	if mean == 0 {
		return 1
	}
	return bars[n-1].Volume / mean
}

// featureConfidence maps a documented base sub-confidence and the current
// RVOL into a 1-10 scale, rewarding volume confirmation.
func featureConfidence(base float64, rvol float64) float64 {
	adj := base
	if rvol > 1.5 {
		adj += 1
	} else if rvol < 0.5 {
		adj -= 1
	}
	return math.Max(1, math.Min(10, adj))
}
