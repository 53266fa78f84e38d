// Package transport is the outbound HTTP/WebSocket API: bar history and
// historical-replay reads, the alert feed, the chat command endpoint, the
// position query, and three WebSocket streams (bar.sealed, typed per-symbol
// event envelopes, and the replay control protocol). Grounded on the
// teacher's Hub/PriceThrottler (client registry, ping/pong heartbeat,
// drop-on-write-error broadcast) and its plain net/http.ServeMux wiring in
// main, generalized from a single ticker broadcast to the multi-topic event
// envelope the co-pilot's event bus publishes.
package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Envelope is the typed message shape pushed over /events/{symbol}:
// {type, payload} with type in {bar, signal.murphy, signal.momo, alert}.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub maintains one registry of live WebSocket clients, shared by every
// stream the Server serves, and
// broadcasts JSON-encoded messages to all of them, dropping any client
// whose write fails.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	upgrader websocket.Upgrader
}

// NewHub constructs an empty client registry.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Upgrade promotes r to a WebSocket connection, registers it, and starts
// its heartbeat pinger and read loop (read loop exists only to detect
// client disconnects; inbound payloads are handled by onMessage if set).
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, onMessage func(conn *websocket.Conn, msg []byte)) (*websocket.Conn, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	h.register(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			h.unregister(conn)
			conn.Close()
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(conn, msg)
			}
		}
	}()

	return conn, nil
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	log.Printf("transport: client connected, total %d", len(h.clients))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("transport: client disconnected, total %d", len(h.clients))
	}
}

// Broadcast sends msg, JSON-marshaled, to every registered client,
// dropping and closing any connection whose write fails.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("transport: broadcast marshal error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}
