package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DBPinger reports whether the persistence layer is reachable; storage.DB
// satisfies this directly.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// FeedStatus reports whether the feed gateway currently holds a live
// upstream connection; feed.Gateway satisfies this directly.
type FeedStatus interface {
	Connected() bool
}

// SetHealthSources wires the subsystems /healthz reports on; either may be
// left nil, in which case that subsystem is omitted from the response
// instead of being reported as down.
func (s *Server) SetHealthSources(db DBPinger, gw FeedStatus) {
	s.healthDB = db
	s.healthFeed = gw
}

// handleHealthz reports real subsystem liveness: a DB ping and the feed
// gateway's connection state, rather than a static "healthy" — the
// teacher's health_check.go had no subsystems to check since it ran one
// flat process with no persistence layer.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	subsystems := map[string]string{}

	if s.healthDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.healthDB.Ping(ctx); err != nil {
			subsystems["db"] = "down"
			status = "degraded"
		} else {
			subsystems["db"] = "up"
		}
	}

	if s.healthFeed != nil {
		if s.healthFeed.Connected() {
			subsystems["feed"] = "up"
		} else {
			subsystems["feed"] = "down"
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"time":       time.Now().Format(time.RFC3339),
		"subsystems": subsystems,
	})
}
