package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tradecopilot/internal/auth"
	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/replay"
	"tradecopilot/internal/trade/executor"
	"tradecopilot/internal/trade/ledger"
	"tradecopilot/internal/types"
)

// HistoricalBarReader reads price history for the GET /bars/{symbol}*
// routes; storage.DB satisfies this directly.
type HistoricalBarReader interface {
	BarsInRange(ctx context.Context, symbol string, from, to time.Time, includeLegacy bool) ([]types.Bar, error)
	ReadBars(ctx context.Context, symbol string, offset, limit int) ([]types.Bar, int, error)
}

// AlertReader reads persisted alerts for the GET /alerts* routes;
// storage.DB satisfies this directly.
type AlertReader interface {
	ListAlerts(ctx context.Context, since time.Time, limit int) ([]types.Alert, error)
	AlertsToday(ctx context.Context) ([]types.Alert, error)
	AlertStats(ctx context.Context) (map[string]int, error)
}

// PriceSource answers the live market price used by the position query.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Server wires the full outbound HTTP/WebSocket surface onto one
// http.ServeMux, mirroring the teacher's habit of registering handlers
// directly on a mux rather than through a router framework.
type Server struct {
	hub            *Hub
	bus            *eventbus.Bus
	replayMgr      *replay.Manager
	ledger         *ledger.Ledger
	executor       *executor.Executor
	prices         PriceSource
	alerts         AlertReader
	historicalBars HistoricalBarReader

	healthDB   DBPinger
	healthFeed FeedStatus
}

// New constructs a Server; any of the reader dependencies may be nil, in
// which case that route answers 503 instead of panicking.
func New(bus *eventbus.Bus, replayMgr *replay.Manager, led *ledger.Ledger, exec *executor.Executor, prices PriceSource, bars HistoricalBarReader, alerts AlertReader) *Server {
	return &Server{
		hub:            NewHub(),
		bus:            bus,
		replayMgr:      replayMgr,
		ledger:         led,
		executor:       exec,
		prices:         prices,
		historicalBars: bars,
		alerts:         alerts,
	}
}

// Routes registers every handler on mux, matching the teacher's direct
// http.HandleFunc wiring style.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/bars/", s.handleBars)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/alerts/today", s.handleAlertsToday)
	mux.HandleFunc("/alerts/stats", s.handleAlertsStats)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/position/", s.handlePosition)
	mux.HandleFunc("/bars/stream", s.handleBarStream)
	mux.HandleFunc("/events/", s.handleEvents)
	mux.HandleFunc("/replay", s.handleReplay)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleBars serves GET /bars/{symbol} and GET /bars/{symbol}/historical.
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if s.historicalBars == nil {
		http.Error(w, "bar storage unavailable", http.StatusServiceUnavailable)
		return
	}
	path := r.URL.Path[len("/bars/"):]
	symbol := path
	historical := false
	if idx := lastSegment(path, "/historical"); idx {
		symbol = path[:len(path)-len("/historical")]
		historical = true
	}
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}

	if historical {
		limit := intParam(r, "limit", 500)
		bars, total, err := s.historicalBars.ReadBars(r.Context(), symbol, 0, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"bars": bars, "total": total})
		return
	}

	from := timeParam(r, "from", time.Now().Add(-24*time.Hour))
	to := timeParam(r, "to", time.Now())
	includeLegacy := r.URL.Query().Get("include_legacy") == "true"
	bars, err := s.historicalBars.BarsInRange(r.Context(), symbol, from, to, includeLegacy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"bars": bars})
}

func lastSegment(path, suffix string) bool {
	return len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func timeParam(r *http.Request, name string, def time.Time) time.Time {
	if v := r.URL.Query().Get(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return def
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		http.Error(w, "alert storage unavailable", http.StatusServiceUnavailable)
		return
	}
	since := timeParam(r, "since", time.Now().Add(-24*time.Hour))
	limit := intParam(r, "limit", 200)
	alerts, err := s.alerts.ListAlerts(r.Context(), since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"alerts": alerts})
}

func (s *Server) handleAlertsToday(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		http.Error(w, "alert storage unavailable", http.StatusServiceUnavailable)
		return
	}
	alerts, err := s.alerts.AlertsToday(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"alerts": alerts})
}

func (s *Server) handleAlertsStats(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		http.Error(w, "alert storage unavailable", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.alerts.AlertStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// chatRequest/chatResponse model POST /chat {symbol, message} ->
// {fast_response, trailing_async?}.
type chatRequest struct {
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
}

type chatResponse struct {
	FastResponse  string `json:"fast_response"`
	TrailingAsync string `json:"trailing_async,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if s.executor == nil {
		http.Error(w, "executor unavailable", http.StatusServiceUnavailable)
		return
	}

	userID := auth.UserID(r)
	resp := s.executor.Dispatch(userID, req.Symbol, req.Message)
	writeJSON(w, chatResponse{FastResponse: resp.Text})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Path[len("/position/"):]
	if symbol == "" || s.ledger == nil || s.executor == nil || s.prices == nil {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	userID := auth.UserID(r)
	pos, hasOpen := s.ledger.Open(userID, symbol)
	price, _ := s.prices.LastPrice(symbol)
	master := s.ledger.MasterPnL(userID, symbol, s.executor.SessionID(userID), price)
	writeJSON(w, map[string]any{
		"position":   pos,
		"has_open":   hasOpen,
		"master_pnl": master,
	})
}

// handleBarStream serves WebSocket /bars/stream, rebroadcasting every
// bar.sealed event from the bus regardless of symbol.
func (s *Server) handleBarStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := s.bus.Subscribe(eventbus.TopicAllBars)
	go func() {
		for evt := range sub {
			conn.WriteJSON(evt.Payload)
		}
	}()
}

// handleEvents serves WebSocket /events/{symbol}: typed envelopes across
// bar, signal.murphy, signal.momo, and alert topics for one symbol.
// scale.progress events are not forwarded on this stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Path[len("/events/"):]
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	conn, err := s.hub.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	topics := map[string]string{
		eventbus.BarTopic(symbol):               "bar",
		eventbus.SignalTopic("murphy", symbol):  "signal.murphy",
		eventbus.SignalTopic("momo", symbol):    "signal.momo",
		eventbus.TopicAlert:                     "alert",
	}
	for topic, kind := range topics {
		sub := s.bus.Subscribe(topic)
		go func(sub <-chan eventbus.Event, kind string) {
			for evt := range sub {
				if kind == "alert" {
					if a, ok := evt.Payload.(types.Alert); ok && a.Symbol != symbol {
						continue
					}
				}
				conn.WriteJSON(Envelope{Type: kind, Payload: evt.Payload})
			}
		}(sub, kind)
	}
}

// replayControl models the /replay WebSocket control protocol:
// {command, symbol, speed?} where command is one of
// subscribe|play|pause|reset|set_speed.
type replayControl struct {
	Command string  `json:"command"`
	Symbol  string  `json:"symbol"`
	Speed   float64 `json:"speed,omitempty"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.replayMgr == nil {
		http.Error(w, "replay unavailable", http.StatusServiceUnavailable)
		return
	}

	var activeSession *replay.Session
	onMessage := func(conn *websocket.Conn, raw []byte) {
		var ctrl replayControl
		if err := json.Unmarshal(raw, &ctrl); err != nil {
			return
		}
		switch ctrl.Command {
		case "subscribe":
			activeSession = s.replayMgr.Subscribe(context.Background(), ctrl.Symbol)
			progress := activeSession.Subscribe()
			go func() {
				for p := range progress {
					conn.WriteJSON(p)
				}
			}()
		case "play":
			if activeSession != nil {
				activeSession.Play()
			}
		case "pause":
			if activeSession != nil {
				activeSession.Pause()
			}
		case "reset":
			if activeSession != nil {
				activeSession.Reset()
			}
		case "set_speed":
			if activeSession != nil {
				activeSession.SetSpeed(ctrl.Speed)
			}
		}
	}
	if _, err := s.hub.Upgrade(w, r, onMessage); err != nil {
		return
	}
}
