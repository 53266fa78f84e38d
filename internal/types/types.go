// Package types holds the domain entities shared across the co-pilot's
// subsystems: ticks, bars, symbol state, alerts, positions, and signals.
// None of these types own synchronization; the owning component (state
// store, bar aggregator, ledger, evaluator) is responsible for that.
package types

import "time"

// TickKind distinguishes a quote update from an executed trade.
type TickKind string

const (
	TickQuote TickKind = "quote"
	TickTrade TickKind = "trade"
)

// Tick is the ephemeral unit of ingestion. It is never persisted; its
// lifetime is a single call into the state store / bar aggregator.
type Tick struct {
	Symbol    string
	EventTime time.Time
	Price     float64
	Size      float64
	Kind      TickKind
	Bid       float64
	Ask       float64
	HasQuote  bool
}

// BarSource records which pipeline produced a bar.
type BarSource string

const (
	BarSourceLive    BarSource = "live"
	BarSourceReplay  BarSource = "replay"
	BarSourceLegacy  BarSource = "legacy"
)

// Bar is an immutable 1-minute OHLCV record once sealed.
type Bar struct {
	Symbol      string
	MinuteStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	TradeCount  int
	Source      BarSource
}

// IsLegacy reports whether the bar was built from a quotes-only feed.
func (b Bar) IsLegacy() bool { return b.Source == BarSourceLegacy }

// Tier is the persistence-priority bucket derived from percent move.
type Tier int

const (
	TierNone Tier = 0
	Tier1    Tier = 1
	Tier2    Tier = 2
	Tier3    Tier = 3
	Tier4    Tier = 4
)

// SymbolState is the per-symbol hot-state row owned exclusively by the
// symbol state store.
type SymbolState struct {
	Symbol         string
	LastPrice      float64
	LastBid        float64
	LastAsk        float64
	LastUpdate     time.Time
	YesterdayClose float64
	HasYesterday   bool
	TodayOpen      float64

	Price1mAgo  float64
	Price5mAgo  float64
	Price15mAgo float64

	SnapshotTS1m  time.Time
	SnapshotTS5m  time.Time
	SnapshotTS15m time.Time

	PctFromYesterday float64
	PctFrom1m        float64
	PctFrom5m        float64
	PctFrom15m       float64

	HODPrice float64
	HODTime  time.Time
	LODPrice float64
	LODTime  time.Time

	SpreadPct float64
	Tier      Tier
}

// Clone returns a value copy suitable for a point-in-time snapshot read.
func (s SymbolState) Clone() SymbolState { return s }

// AlertKind names the baseline an alert was evaluated against.
type AlertKind string

const (
	AlertPctFromYesterday AlertKind = "pct_from_yesterday"
	AlertPctFromOpen      AlertKind = "pct_from_open"
	AlertPctFrom15m       AlertKind = "pct_from_15m"
)

// Alert is an append-only record of a threshold crossing.
type Alert struct {
	ID           string
	Symbol       string
	Kind         AlertKind
	TriggerPrice float64
	TriggerTime  time.Time
	Conditions   map[string]any
	Metadata     map[string]any
}

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the reversed side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign returns +1 for long, -1 for short, used in P&L arithmetic.
func (s Side) Sign() float64 {
	if s == SideLong {
		return 1
	}
	return -1
}

// PositionStatus is open or closed.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// StopBracket holds advisory risk levels attached to a position.
type StopBracket struct {
	Set        bool
	StopPrice  float64
	TargetPrice float64
}

// Position is a single user/symbol simulated trade, mutated only by the
// trade command executor and scale workers.
type Position struct {
	ID              string
	UserID          string
	Symbol          string
	Side            Side
	Quantity        float64
	EntryPrice      float64
	EntryValue      float64
	EntryTime       time.Time
	ExitPrice       float64
	ExitTime        time.Time
	Status          PositionStatus
	RealizedPnLCum  float64
	SessionID       string
	Stop            StopBracket
}

// UnrealizedPnL computes the mark-to-market P&L at the given price.
func (p Position) UnrealizedPnL(currentPrice float64) float64 {
	if p.Status != PositionOpen {
		return 0
	}
	return (currentPrice - p.EntryPrice) * p.Quantity * p.Side.Sign()
}

// Direction is the inferred bias of a classifier signal.
type Direction string

const (
	DirUp      Direction = "up"
	DirDown    Direction = "down"
	DirNeutral Direction = "neutral"
)

// Classifier names which engine produced a signal.
type Classifier string

const (
	ClassifierMurphy Classifier = "murphy"
	ClassifierMomo   Classifier = "momo"
)

// Signal is every candidate a classifier generates, whether or not it is
// ultimately displayed.
type Signal struct {
	ID          string
	Symbol      string
	BarIndex    int
	EmitTime    time.Time
	Classifier  Classifier
	Direction   Direction
	Stars       int
	Grade       int
	Confidence  float64
	Features    map[string]any
	LevelPrice  float64
	HasLevel    bool
	Displayed   bool
	FilterReason string
}

// SignalEvaluation is updated asynchronously by the evaluation recorder.
type SignalEvaluation struct {
	SignalID     string
	PriceAt2m    float64
	PriceAt5m    float64
	PriceAt10m   float64
	PriceAt30m   float64
	Correct2m    *bool
	Correct5m    *bool
	Correct10m   *bool
	FinalCorrect *bool
	// Stale2m/5m/10m/30m mark a horizon that was scanned more than 2x its
	// interval late (evaluator paused/restarted/backlogged) and was skipped
	// rather than judged against a now-meaningless current price.
	Stale2m  bool
	Stale5m  bool
	Stale10m bool
	Stale30m bool
}

// TestSessionStatus is the lifecycle state of a TestSession.
type TestSessionStatus string

const (
	TestSessionActive    TestSessionStatus = "active"
	TestSessionCompleted TestSessionStatus = "completed"
	TestSessionCancelled TestSessionStatus = "cancelled"
)

// TestSession wraps a batch of signals for later analysis.
type TestSession struct {
	ID        string
	Symbol    string
	Config    map[string]any
	Metrics   map[string]any
	Status    TestSessionStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// CommandPhrase is one natural-language phrase mapped to a command with a
// confidence score, used by the fuzzy/phrase matcher.
type CommandPhrase struct {
	Text       string
	Confidence float64
}

// Command is a registry row: a named trade command plus its aliases,
// phrases, and implementation flag. Loaded once at startup, hot-reloadable.
type Command struct {
	Name        string
	HandlerKey  string
	Category    string
	Aliases     []string
	Phrases     []CommandPhrase
	Implemented bool
}
