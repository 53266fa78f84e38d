// Package feed is the Feed Gateway: it subscribes to the external
// market-data stream for the configured symbol universe, normalizes each
// inbound message into a typed event, and forwards events downstream in
// arrival order. It is grounded on the teacher's per-exchange websocket
// dial/reconnect goroutines (BinanceFutures.Start, BybitV5.Start in the
// original), generalized from one goroutine per crypto exchange to one
// goroutine for a single configurable equities venue.
package feed

import (
	"context"
	"errors"
	"log"
	"math"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradecopilot/internal/types"
)

// ErrKind discriminates gateway failures; a fatal kind stops the component
// and propagates to the supervisor, a transient kind is retried internally.
type ErrKind string

const (
	ErrConnectionRefused ErrKind = "connection_refused"
	ErrAuthInvalid       ErrKind = "auth_invalid"
	ErrQuotaExceeded     ErrKind = "quota_exceeded"
)

// Fatal reports whether the kind must stop the gateway rather than retry.
func (k ErrKind) Fatal() bool { return k == ErrAuthInvalid || k == ErrQuotaExceeded }

// GatewayError wraps a failure with its discriminated kind.
type GatewayError struct {
	Kind ErrKind
	Err  error
}

func (e *GatewayError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *GatewayError) Unwrap() error { return e.Err }

// Sink receives normalized events in arrival order. The Symbol State Store
// and Bar Aggregator both implement this (subscribing in parallel).
type Sink interface {
	OnTick(t types.Tick)
}

// wireMessage is the shape of one inbound provider message: either a
// symbol-mapping record or a price update.
type wireMessage struct {
	Type         string  `json:"type"`
	InstrumentID int64   `json:"instrument_id"`
	Symbol       string  `json:"symbol"`
	TSEvent      int64   `json:"ts_event"` // unix nanos
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	HasQuote     bool    `json:"has_quote"`
}

const maxSpreadPct = 0.02 // spreads wider than this are dropped as noise

// Gateway owns the websocket connection to the upstream feed and the
// instrument_id -> symbol directory, rebuilt on every reconnect.
type Gateway struct {
	url    string
	schema string // "trades" preferred, "quotes" fallback

	mu        sync.RWMutex
	directory map[int64]string

	sinks []Sink

	onFatal func(*GatewayError)

	connected atomic.Bool
}

// Connected reports whether the gateway currently holds a live websocket
// connection to the upstream feed; wired into /healthz.
func (g *Gateway) Connected() bool { return g.connected.Load() }

// New constructs a Gateway pointed at wsURL with the given schema
// preference ("trades" or "quotes").
func New(wsURL, schema string, sinks ...Sink) *Gateway {
	return &Gateway{
		url:       wsURL,
		schema:    schema,
		directory: make(map[int64]string),
		sinks:     sinks,
	}
}

// OnFatal registers a callback invoked once when a fatal error (auth or
// quota) stops the gateway; the supervisor wires this to its own restart
// policy.
func (g *Gateway) OnFatal(fn func(*GatewayError)) { g.onFatal = fn }

// Start begins the subscription and blocks until ctx is cancelled or a
// fatal error occurs. Transient I/O errors are retried internally with
// exponential backoff from 1s up to a 60s cap.
func (g *Gateway) Start(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := g.runOnce(ctx)
		if err == nil {
			return nil // ctx cancelled cleanly inside runOnce
		}

		var gerr *GatewayError
		if errors.As(err, &gerr) && gerr.Kind.Fatal() {
			log.Printf("feed: fatal error, stopping gateway: %v", gerr)
			if g.onFatal != nil {
				g.onFatal(gerr)
			}
			return gerr
		}

		log.Printf("feed: transient error, reconnecting in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(maxBackoff)))
	}
}

// runOnce dials, rebuilds the directory, and reads until disconnect or ctx
// cancellation. Replay of in-flight state across the reconnect boundary is
// explicitly the responsibility of downstream components, not the gateway.
func (g *Gateway) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	u, err := url.Parse(g.url)
	if err != nil {
		return &GatewayError{Kind: ErrConnectionRefused, Err: err}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return &GatewayError{Kind: ErrAuthInvalid, Err: err}
		}
		if resp != nil && resp.StatusCode == 429 {
			return &GatewayError{Kind: ErrQuotaExceeded, Err: err}
		}
		return &GatewayError{Kind: ErrConnectionRefused, Err: err}
	}
	defer conn.Close()

	g.mu.Lock()
	g.directory = make(map[int64]string)
	g.mu.Unlock()

	g.connected.Store(true)
	defer g.connected.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return &GatewayError{Kind: ErrConnectionRefused, Err: err}
		}
		g.handle(msg)
	}
}

func (g *Gateway) handle(msg wireMessage) {
	switch msg.Type {
	case "symbol_mapping":
		g.mu.Lock()
		g.directory[msg.InstrumentID] = msg.Symbol
		g.mu.Unlock()
		return
	case "system_status":
		return
	}

	symbol := msg.Symbol
	if symbol == "" {
		g.mu.RLock()
		symbol = g.directory[msg.InstrumentID]
		g.mu.RUnlock()
	}
	if symbol == "" {
		return // instrument_id has no symbol_mapping entry yet; drop the tick
	}

	if msg.HasQuote && msg.Bid > 0 && msg.Ask > 0 {
		spread := (msg.Ask - msg.Bid) / msg.Bid
		if spread > maxSpreadPct {
			return // noise filter
		}
	}

	kind := types.TickTrade
	if g.schema == "quotes" {
		kind = types.TickQuote
	}

	tick := types.Tick{
		Symbol:    symbol,
		EventTime: time.Unix(0, msg.TSEvent),
		Price:     msg.Price,
		Size:      msg.Size,
		Kind:      kind,
		Bid:       msg.Bid,
		Ask:       msg.Ask,
		HasQuote:  msg.HasQuote,
	}

	for _, s := range g.sinks {
		s.OnTick(tick)
	}
}
