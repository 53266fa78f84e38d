// Package state is the Symbol State Store: a process-wide map of
// per-symbol real-time state, updated by a single writer and read via
// point-in-time snapshots. It is grounded on the teacher's Analyzer, whose
// mutex-guarded priceMap/depthMap and periodic cleanup ticker are the
// direct ancestor of this store's single-writer map and tiered flusher.
package state

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"tradecopilot/internal/types"
)

// Persister is implemented by the storage layer; the store never blocks an
// in-memory update on a persistence write.
type Persister interface {
	FlushSymbolStates(ctx context.Context, rows []types.SymbolState) error
}

// event is a single update dispatched through the store's work queue so
// that all writes are serialized through one goroutine.
type event struct {
	symbol string
	ts     time.Time
	price  float64
	bid    float64
	ask    float64
	hasBid bool
}

// Store owns every SymbolState row. All mutation happens on the single
// goroutine started by Run; Get and QueryTop take a read lock over a
// plain map protected separately from the writer's hot path.
type Store struct {
	tierSeconds map[int]int

	mu    sync.RWMutex
	rows  map[string]types.SymbolState

	inbox chan event

	tierMu  sync.Mutex
	pending map[int]map[string]struct{} // tier -> dirty symbols

	persister Persister
}

// New constructs a Store. tierSeconds maps tier (0-4) to its flush
// interval in seconds, per the persistence scheduler table.
func New(tierSeconds map[int]int, persister Persister) *Store {
	return &Store{
		tierSeconds: tierSeconds,
		rows:        make(map[string]types.SymbolState),
		inbox:       make(chan event, 4096),
		pending:     map[int]map[string]struct{}{0: {}, 1: {}, 2: {}, 3: {}, 4: {}},
		persister:   persister,
	}
}

// OnEvent enqueues an update; it never blocks the caller beyond the
// channel send (the inbox is generously buffered).
func (s *Store) OnEvent(symbol string, ts time.Time, price float64, bid, ask float64, hasQuote bool) {
	s.inbox <- event{symbol: symbol, ts: ts, price: price, bid: bid, ask: ask, hasBid: hasQuote}
}

// OnTick adapts the feed.Sink interface shape so the store can be wired
// directly as a gateway sink.
func (s *Store) OnTick(t types.Tick) {
	s.OnEvent(t.Symbol, t.EventTime, t.Price, t.Bid, t.Ask, t.HasQuote)
}

// Run is the store's single writer task. It drains the inbox and runs the
// tier-priority flusher on a one-second scheduling tick until ctx is done.
func (s *Store) Run(ctx context.Context) {
	flushTick := time.NewTicker(time.Second)
	defer flushTick.Stop()

	lastFlush := map[int]time.Time{0: {}, 1: {}, 2: {}, 3: {}, 4: {}}

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.inbox:
			s.apply(e)
		case now := <-flushTick.C:
			s.maybeFlush(ctx, now, lastFlush)
		}
	}
}

func (s *Store) apply(e event) {
	s.mu.Lock()
	row, ok := s.rows[e.symbol]
	if !ok {
		row = types.SymbolState{Symbol: e.symbol, TodayOpen: e.price}
	}

	row.LastPrice = e.price
	row.LastUpdate = e.ts
	if e.hasBid && e.bid > 0 && e.ask > 0 {
		row.LastBid = e.bid
		row.LastAsk = e.ask
		row.SpreadPct = (e.ask - e.bid) / e.bid
	}

	if row.HasYesterday && row.YesterdayClose != 0 {
		row.PctFromYesterday = (e.price - row.YesterdayClose) / row.YesterdayClose
	}

	refreshWindow(&row.SnapshotTS1m, &row.Price1mAgo, &row.PctFrom1m, e.ts, e.price, time.Minute)
	refreshWindow(&row.SnapshotTS5m, &row.Price5mAgo, &row.PctFrom5m, e.ts, e.price, 5*time.Minute)
	refreshWindow(&row.SnapshotTS15m, &row.Price15mAgo, &row.PctFrom15m, e.ts, e.price, 15*time.Minute)

	if row.HODPrice == 0 || e.price > row.HODPrice {
		row.HODPrice, row.HODTime = e.price, e.ts
	}
	if row.LODPrice == 0 || e.price < row.LODPrice {
		row.LODPrice, row.LODTime = e.price, e.ts
	}

	row.Tier = tierFor(row.PctFromYesterday)

	s.rows[e.symbol] = row
	s.mu.Unlock()

	s.markDirty(row.Tier, e.symbol)
}

// refreshWindow implements "if snapshot is unset or older than W, reset the
// baseline price to the current price" — the rolling-window baseline rule.
func refreshWindow(snapshotTS *time.Time, baseline *float64, pct *float64, ts time.Time, price float64, window time.Duration) {
	if snapshotTS.IsZero() || ts.Sub(*snapshotTS) >= window {
		*baseline = price
		*snapshotTS = ts
	}
	if *baseline != 0 {
		*pct = (price - *baseline) / *baseline
	}
}

// tierFor buckets |pct_from_yesterday| into the persistence-priority tier.
func tierFor(pctFromYesterday float64) types.Tier {
	abs := pctFromYesterday
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.20:
		return types.Tier1
	case abs >= 0.10:
		return types.Tier2
	case abs >= 0.05:
		return types.Tier3
	case abs >= 0.01:
		return types.Tier4
	default:
		return types.TierNone
	}
}

func (s *Store) markDirty(tier types.Tier, symbol string) {
	s.tierMu.Lock()
	s.pending[int(tier)][symbol] = struct{}{}
	s.tierMu.Unlock()
}

func (s *Store) maybeFlush(ctx context.Context, now time.Time, lastFlush map[int]time.Time) {
	// Drain in priority order: tier 1 (fastest) first, tier 0 (slowest) last.
	for _, tier := range []int{1, 2, 3, 4, 0} {
		interval := time.Duration(s.tierSeconds[tier]) * time.Second
		if now.Sub(lastFlush[tier]) < interval {
			continue
		}
		lastFlush[tier] = now

		s.tierMu.Lock()
		dirty := s.pending[tier]
		s.pending[tier] = map[string]struct{}{}
		s.tierMu.Unlock()

		if len(dirty) == 0 {
			continue
		}

		rows := make([]types.SymbolState, 0, len(dirty))
		s.mu.RLock()
		for sym := range dirty {
			rows = append(rows, s.rows[sym])
		}
		s.mu.RUnlock()

		if s.persister == nil {
			continue
		}
		if err := s.persister.FlushSymbolStates(ctx, rows); err != nil {
			log.Printf("state: flush error for tier %d, retrying next cycle: %v", tier, err)
			s.tierMu.Lock()
			for sym := range dirty {
				s.pending[tier][sym] = struct{}{}
			}
			s.tierMu.Unlock()
		}
	}
}

// SeedYesterdayClose installs the prior session's close for symbol, used
// once at startup from the durable snapshot before live ticks arrive.
func (s *Store) SeedYesterdayClose(symbol string, close float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[symbol]
	if !ok {
		row = types.SymbolState{Symbol: symbol}
	}
	row.YesterdayClose = close
	row.HasYesterday = true
	s.rows[symbol] = row
}

// LastPrice answers the executor's, scale worker's, and evaluator's
// PriceSource need with the store's own last tick price.
func (s *Store) LastPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[symbol]
	if !ok || row.LastPrice == 0 {
		return 0, false
	}
	return row.LastPrice, true
}

// Get returns a point-in-time snapshot of symbol's state.
func (s *Store) Get(symbol string) (types.SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[symbol]
	return row.Clone(), ok
}

// QueryTop returns the n symbols with the largest metric value, a
// leaderboard read over the current rows.
func (s *Store) QueryTop(metric func(types.SymbolState) float64, n int) []types.SymbolState {
	s.mu.RLock()
	all := make([]types.SymbolState, 0, len(s.rows))
	for _, row := range s.rows {
		all = append(all, row)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return metric(all[i]) > metric(all[j]) })
	if n < len(all) {
		all = all[:n]
	}
	return all
}
