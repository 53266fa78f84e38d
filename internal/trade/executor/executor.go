// Package executor is the Trade Command Executor: it turns a matched
// command into at most one position mutation, producing a deterministic,
// text-only fast response from in-memory state within the response-time
// budget named by the concurrency model. Grounded on the teacher's
// ExecuteTrade paranoid pipeline (duplicate guard, hysteresis, kill
// switch), generalized from placing a live order to mutating the
// simulated ledger, and serialized per (user, symbol) the same way the
// teacher serializes per-symbol order placement.
package executor

import (
	"fmt"
	"sync"
	"time"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/trade/ledger"
	"tradecopilot/internal/trade/registry"
	"tradecopilot/internal/types"
)

// PriceSource answers "what is the current price of symbol", used as the
// market fill price when the user supplies none.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// CommandError is the discriminated result a handler can return alongside
// its text response; ValidationError and NotImplementedCommand never
// raise to the caller, per the error handling design.
type CommandError string

const (
	ErrValidation     CommandError = "validation_error"
	ErrNotImplemented CommandError = "not_implemented_command"
	// ErrConsistency is declared for the two-open-positions race the error
	// handling design names, but is never returned: the ledger's single
	// mutex plus this executor's serialized per-(user,symbol)
	// dispatch queue (see queueFor) make that race structurally unreachable
	// rather than something a handler must detect and roll back.
	ErrConsistency CommandError = "consistency_error"
)

// Response is the fast, deterministic, text-only reply every handler
// produces.
type Response struct {
	Text  string
	Error CommandError
	Data  map[string]any
}

// Scaler starts a background scaleout/scalein worker for a position; the
// executor only kicks it off, the scale package owns the chunked loop.
type Scaler interface {
	StartScaleout(userID, symbol, sessionID, speed string) error
	StartScalein(userID, symbol, sessionID, speed string, totalQty float64) error
}

// command is one request dispatched through a user/symbol's serial queue.
type command struct {
	text    string
	userID  string
	symbol  string
	reply   chan Response
}

// Executor matches and dispatches trade commands.
type Executor struct {
	reg    *registry.Registry
	ledger *ledger.Ledger
	prices PriceSource
	bus    *eventbus.Bus
	scaler Scaler

	mu      sync.Mutex
	queues  map[string]chan command // key: user|symbol
	session map[string]string       // key: user, value: current session id
}

// New constructs an Executor.
func New(reg *registry.Registry, led *ledger.Ledger, prices PriceSource, bus *eventbus.Bus, scaler Scaler) *Executor {
	return &Executor{
		reg:     reg,
		ledger:  led,
		prices:  prices,
		bus:     bus,
		scaler:  scaler,
		queues:  make(map[string]chan command),
		session: make(map[string]string),
	}
}

func qKey(userID, symbol string) string { return userID + "|" + symbol }

// Dispatch enqueues text for (userID, symbol) and blocks for the fast
// response. Commands for the same (user, symbol) serialize through one
// queue; a command runs to completion before the next is dispatched,
// guaranteeing no concurrent modification of the same Position.
func (e *Executor) Dispatch(userID, symbol, text string) Response {
	q := e.queueFor(userID, symbol)
	reply := make(chan Response, 1)
	q <- command{text: text, userID: userID, symbol: symbol, reply: reply}
	return <-reply
}

func (e *Executor) queueFor(userID, symbol string) chan command {
	k := qKey(userID, symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[k]
	if ok {
		return q
	}
	q = make(chan command, 64)
	e.queues[k] = q
	go e.drain(q)
	return q
}

func (e *Executor) drain(q chan command) {
	for cmd := range q {
		cmd.reply <- e.handle(cmd.userID, cmd.symbol, cmd.text)
	}
}

// SessionID exposes the lazily-initialized current session ID for a user,
// used by the transport layer's position query route.
func (e *Executor) SessionID(userID string) string {
	return e.sessionID(userID)
}

func (e *Executor) sessionID(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sid, ok := e.session[userID]; ok {
		return sid
	}
	sid := fmt.Sprintf("%s-session-0", userID)
	e.session[userID] = sid
	return sid
}

func (e *Executor) handle(userID, symbol, text string) Response {
	match, ok := e.reg.Match(text)
	if !ok {
		return Response{Text: "command not recognized", Error: ErrValidation}
	}
	if !match.Command.Implemented {
		return Response{Text: "not yet implemented", Error: ErrNotImplemented}
	}

	price, hasPrice := e.prices.LastPrice(symbol)
	if !hasPrice {
		return Response{Text: fmt.Sprintf("no market data for %s", symbol), Error: ErrValidation}
	}

	sessionID := e.sessionID(userID)
	now := time.Now()

	switch match.Command.HandlerKey {
	case "long", "short", "entry_at_price", "entry_at_market":
		return e.handleEntry(userID, symbol, sessionID, match, price, now)
	case "close", "exit", "flat", "flatten", "sell_all":
		return e.handleClose(userID, symbol, sessionID, price, now)
	case "scaleout", "sell_half", "sell_pct", "sell_qty":
		return e.handleScaleout(userID, symbol, sessionID, match)
	case "accumulate", "add":
		return e.handleAccumulate(userID, symbol, sessionID, match, price, now)
	case "reverse", "flip":
		return e.handleReverse(userID, symbol, sessionID, price, now, false)
	case "reverse_smart", "smart_reverse":
		return e.handleReverse(userID, symbol, sessionID, price, now, true)
	case "stop", "bracket":
		return e.handleStop(userID, symbol, price)
	case "pos", "pl", "profit":
		return e.handlePosQuery(userID, symbol, sessionID, price)
	case "reset":
		return e.handleReset(userID, sessionID)
	default:
		return Response{Text: "not yet implemented", Error: ErrNotImplemented}
	}
}

func sideFromText(s string) (types.Side, bool) {
	switch s {
	case "long", "buy":
		return types.SideLong, true
	case "short", "sell":
		return types.SideShort, true
	default:
		return "", false
	}
}

func (e *Executor) handleEntry(userID, symbol, sessionID string, match registry.Match, marketPrice float64, now time.Time) Response {
	sideStr := match.Command.HandlerKey
	if s, ok := match.Params["side"]; ok {
		sideStr = s
	}
	side, ok := sideFromText(sideStr)
	if !ok {
		side = types.SideLong
	}

	qty := 1.0
	if q, ok := match.Params["qty"]; ok {
		if v, err := registry.ParseFloat(q); err == nil {
			qty = v
		}
	}

	price := marketPrice
	if p, ok := match.Params["price"]; ok {
		if v, err := registry.ParseFloat(p); err == nil {
			price = v
		}
	}

	pos, realizedFromReversal, err := e.ledger.Entry(userID, symbol, sessionID, side, qty, price, now)
	if err != nil {
		return Response{Text: err.Error(), Error: ErrValidation}
	}

	e.bus.Publish(eventbus.PositionTopic(symbol), pos)

	if realizedFromReversal != 0 {
		return Response{
			Text: fmt.Sprintf("reversed to %s %.2f @ %.2f (realized %.2f)", side, qty, price, realizedFromReversal),
			Data: map[string]any{"position": pos, "realized_delta": realizedFromReversal},
		}
	}
	return Response{
		Text: fmt.Sprintf("%s %.2f %s @ %.2f", side, qty, symbol, pos.EntryPrice),
		Data: map[string]any{"position": pos},
	}
}

func (e *Executor) handleAccumulate(userID, symbol, sessionID string, match registry.Match, marketPrice float64, now time.Time) Response {
	existing, ok := e.ledger.Open(userID, symbol)
	if !ok {
		return Response{Text: fmt.Sprintf("no open position for %s", symbol), Error: ErrValidation}
	}
	qty := 1.0
	if q, ok := match.Params["qty"]; ok {
		if v, err := registry.ParseFloat(q); err == nil {
			qty = v
		}
	}
	pos, _, err := e.ledger.Entry(userID, symbol, sessionID, existing.Side, qty, marketPrice, now)
	if err != nil {
		return Response{Text: err.Error(), Error: ErrValidation}
	}
	e.bus.Publish(eventbus.PositionTopic(symbol), pos)
	return Response{Text: fmt.Sprintf("added %.2f %s @ %.2f", qty, symbol, marketPrice), Data: map[string]any{"position": pos}}
}

func (e *Executor) handleClose(userID, symbol, sessionID string, price float64, now time.Time) Response {
	closed, realized, err := e.ledger.Close(userID, symbol, sessionID, price, now)
	if err != nil {
		return Response{Text: err.Error(), Error: ErrValidation}
	}
	e.bus.Publish(eventbus.PositionTopic(symbol), closed)
	return Response{
		Text: fmt.Sprintf("closed %s @ %.2f (realized %.2f)", symbol, price, realized),
		Data: map[string]any{"position": closed, "realized": realized},
	}
}

func (e *Executor) handleReverse(userID, symbol, sessionID string, price float64, now time.Time, smart bool) Response {
	if smart && e.ledger.SmartReverseBlocked(userID, symbol, price) {
		return Response{Text: "reverse blocked: unrealized loss exceeds 10%", Error: ErrValidation}
	}

	existing, ok := e.ledger.Open(userID, symbol)
	if !ok {
		return Response{Text: fmt.Sprintf("no open position for %s", symbol), Error: ErrValidation}
	}

	pos, realized, err := e.ledger.Entry(userID, symbol, sessionID, existing.Side.Opposite(), existing.Quantity, price, now)
	if err != nil {
		return Response{Text: err.Error(), Error: ErrValidation}
	}
	e.bus.Publish(eventbus.PositionTopic(symbol), pos)
	return Response{
		Text: fmt.Sprintf("reversed %s to %s @ %.2f (realized %.2f)", symbol, pos.Side, price, realized),
		Data: map[string]any{"position": pos, "realized_delta": realized},
	}
}

func (e *Executor) handleStop(userID, symbol string, price float64) Response {
	existing, ok := e.ledger.Open(userID, symbol)
	if !ok {
		return Response{Text: fmt.Sprintf("no open position for %s", symbol), Error: ErrValidation}
	}

	var stop, target float64
	risk := existing.EntryPrice * 0.02
	if existing.Side == types.SideLong {
		stop = existing.EntryPrice - risk
		target = existing.EntryPrice + 3*risk
	} else {
		stop = existing.EntryPrice + risk
		target = existing.EntryPrice - 3*risk
	}

	if err := e.ledger.SetStop(userID, symbol, stop, target); err != nil {
		return Response{Text: err.Error(), Error: ErrValidation}
	}
	return Response{
		Text: fmt.Sprintf("stop %.2f / target %.2f set on %s", stop, target, symbol),
		Data: map[string]any{"stop": stop, "target": target},
	}
}

func (e *Executor) handlePosQuery(userID, symbol, sessionID string, price float64) Response {
	master := e.ledger.MasterPnL(userID, symbol, sessionID, price)

	pos, hasOpen := e.ledger.Open(userID, symbol)
	if !hasOpen {
		// Must still return non-zero MasterPnL by reading closed positions
		// in the current session even with no open position.
		return Response{
			Text: fmt.Sprintf("no open position; master_pnl=%.2f", master),
			Data: map[string]any{"master_pnl": master},
		}
	}

	unrealized := pos.UnrealizedPnL(price)
	return Response{
		Text: fmt.Sprintf("%s %.2f @ %.2f, current %.2f, unrealized %.2f, master_pnl %.2f", pos.Side, pos.Quantity, pos.EntryPrice, price, unrealized, master),
		Data: map[string]any{
			"side": pos.Side, "qty": pos.Quantity, "entry": pos.EntryPrice,
			"current": price, "unrealized": unrealized,
			"realized_cum": pos.RealizedPnLCum, "master_pnl": master,
		},
	}
}

func (e *Executor) handleScaleout(userID, symbol, sessionID string, match registry.Match) Response {
	speed := "medium"
	if v, ok := match.Params["speed"]; ok && v != "" {
		speed = v
	}
	if err := e.scaler.StartScaleout(userID, symbol, sessionID, speed); err != nil {
		return Response{Text: err.Error(), Error: ErrValidation}
	}
	return Response{Text: fmt.Sprintf("scaling out %s (%s)", symbol, speed)}
}

func (e *Executor) handleReset(userID, oldSessionID string) Response {
	newSessionID := fmt.Sprintf("%s-session-%d", userID, time.Now().UnixNano())
	e.ledger.ResetSession(userID, oldSessionID, newSessionID)
	e.mu.Lock()
	e.session[userID] = newSessionID
	e.mu.Unlock()
	return Response{Text: "session reset", Data: map[string]any{"session_id": newSessionID}}
}
