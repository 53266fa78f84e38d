// Package ledger owns every Position mutation: averaging, reversal,
// partial exit, and close. It is grounded on the teacher's ExecuteTrade,
// generalized from placing a real exchange order to mutating a simulated
// position row, and enforces the "at most one open position per
// (user, symbol)" invariant the teacher's duplicate-guard map expressed
// for live orders.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecopilot/internal/types"
)

// Store persists position rows; the ledger's in-memory map is
// authoritative, persistence is a write-behind mirror.
type Store interface {
	SavePosition(p types.Position) error
}

// Ledger holds every user's positions, keyed by (user, symbol), and the
// per-session realized P&L used to answer MasterPnL queries even when no
// position is open.
type Ledger struct {
	mu        sync.Mutex
	open      map[string]*types.Position // key: user|symbol, only while status=open
	closedPnL map[string]float64         // key: user|sessionID, sum of realized P&L this session
	store     Store
}

// New constructs an empty Ledger.
func New(store Store) *Ledger {
	return &Ledger{
		open:      make(map[string]*types.Position),
		closedPnL: make(map[string]float64),
		store:     store,
	}
}

func key(userID, symbol string) string { return userID + "|" + symbol }

// Open returns the open position for (userID, symbol), if any.
func (l *Ledger) Open(userID, symbol string) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[key(userID, symbol)]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// MasterPnL returns the session-cumulative realized P&L plus unrealized
// P&L on any open position, per the derived-aggregate definition.
func (l *Ledger) MasterPnL(userID, symbol, sessionID string, currentPrice float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.closedPnL[userID+"|"+sessionID]
	if p, ok := l.open[key(userID, symbol)]; ok {
		total += p.UnrealizedPnL(currentPrice)
	}
	return total
}

// Entry opens a new position, averages into an existing same-side
// position, or executes a reversal (close opposite side + open fresh),
// per §4.8.2. price is the fill price (market = current last_price when
// the user supplied none).
func (l *Ledger) Entry(userID, symbol, sessionID string, side types.Side, qty, price float64, now time.Time) (types.Position, float64, error) {
	if qty <= 0 {
		return types.Position{}, 0, fmt.Errorf("quantity must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(userID, symbol)
	existing, hasOpen := l.open[k]

	if !hasOpen {
		p := l.newPosition(userID, symbol, sessionID, side, qty, price, now)
		l.open[k] = &p
		l.persist(p)
		return p, 0, nil
	}

	if existing.Side == side {
		// Averaging law: entry' = (q*e + q'*p')/(q+q'); qty' = q+q';
		// realized_pnl_cum unchanged.
		newQty := existing.Quantity + qty
		newEntry := (existing.Quantity*existing.EntryPrice + qty*price) / newQty
		existing.Quantity = newQty
		existing.EntryPrice = newEntry
		existing.EntryValue = newQty * newEntry
		l.persist(*existing)
		return *existing, 0, nil
	}

	// Opposite side: reversal. Close the existing position at price,
	// accumulate realized P&L, then open a fresh position on the new side.
	realized := existing.UnrealizedPnL(price)
	l.closeLocked(userID, symbol, sessionID, price, now)

	p := l.newPosition(userID, symbol, sessionID, side, qty, price, now)
	l.open[k] = &p
	l.persist(p)
	return p, realized, nil
}

// SmartReverseBlocked reports whether a smart-reverse must be blocked
// because current unrealized loss exceeds 10%.
func (l *Ledger) SmartReverseBlocked(userID, symbol string, currentPrice float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[key(userID, symbol)]
	if !ok {
		return false
	}
	loss := -p.UnrealizedPnL(currentPrice)
	if loss <= 0 {
		return false
	}
	return loss/p.EntryValue > 0.10
}

// Close seals the open position at price, returning the realized P&L.
func (l *Ledger) Close(userID, symbol, sessionID string, price float64, now time.Time) (types.Position, float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.open[key(userID, symbol)]; !ok {
		return types.Position{}, 0, fmt.Errorf("no open position for %s", symbol)
	}
	before := *l.open[key(userID, symbol)]
	realized := before.UnrealizedPnL(price)
	closed := l.closeLocked(userID, symbol, sessionID, price, now)
	return closed, realized, nil
}

// closeLocked must be called with l.mu held. It seals the position,
// credits realized P&L to the session total, and removes it from open.
func (l *Ledger) closeLocked(userID, symbol, sessionID string, price float64, now time.Time) types.Position {
	k := key(userID, symbol)
	p := l.open[k]
	realized := p.UnrealizedPnL(price)

	p.ExitPrice = price
	p.ExitTime = now
	p.Status = types.PositionClosed
	p.RealizedPnLCum += realized

	l.closedPnL[userID+"|"+sessionID] += realized
	delete(l.open, k)
	l.persist(*p)
	return *p
}

// PartialExit decrements quantity by chunkQty at price, crediting the
// chunk's realized P&L delta; used by scale workers. If chunkQty would
// fully close the position, it instead calls the close path atomically.
func (l *Ledger) PartialExit(userID, symbol, sessionID string, chunkQty, price float64, now time.Time) (delta float64, closed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(userID, symbol)
	p, ok := l.open[k]
	if !ok {
		return 0, false, fmt.Errorf("no open position for %s", symbol)
	}

	delta = chunkQty * (price - p.EntryPrice) * p.Side.Sign()

	if chunkQty >= p.Quantity {
		l.closeLocked(userID, symbol, sessionID, price, now)
		return delta, true, nil
	}

	p.Quantity -= chunkQty
	p.RealizedPnLCum += delta
	l.closedPnL[userID+"|"+sessionID] += delta
	l.persist(*p)
	return delta, false, nil
}

// PartialEntry increments quantity by chunkQty at price, used by scalein
// workers; re-averages entry price like a same-side Entry call.
func (l *Ledger) PartialEntry(userID, symbol, sessionID string, chunkQty, price float64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(userID, symbol)
	p, ok := l.open[k]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	newQty := p.Quantity + chunkQty
	p.EntryPrice = (p.Quantity*p.EntryPrice + chunkQty*price) / newQty
	p.Quantity = newQty
	p.EntryValue = newQty * p.EntryPrice
	l.persist(*p)
	return nil
}

// SetStop records advisory risk levels on the open position.
func (l *Ledger) SetStop(userID, symbol string, stopPrice, targetPrice float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[key(userID, symbol)]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	p.Stop = types.StopBracket{Set: true, StopPrice: stopPrice, TargetPrice: targetPrice}
	l.persist(*p)
	return nil
}

// ResetSession starts a new session_id for the user; historical positions
// are preserved but the new session's running MasterPnL starts at zero —
// it excludes prior sessions' realized P&L but never deletes rows.
func (l *Ledger) ResetSession(userID, oldSessionID, newSessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.closedPnL, userID+"|"+oldSessionID)
	l.closedPnL[userID+"|"+newSessionID] = 0
}

func (l *Ledger) newPosition(userID, symbol, sessionID string, side types.Side, qty, price float64, now time.Time) types.Position {
	return types.Position{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
		EntryValue: qty * price,
		EntryTime:  now,
		Status:     types.PositionOpen,
		SessionID:  sessionID,
	}
}

func (l *Ledger) persist(p types.Position) {
	if l.store == nil {
		return
	}
	_ = l.store.SavePosition(p) // best-effort; ledger state is authoritative
}
