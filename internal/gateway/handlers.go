package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes mounts the stream endpoints on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, start time.Time) {
	// WebSocket endpoint. ?last_seen= (RFC3339Nano) trims the initial
	// snapshot for reconnecting clients.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		var lastSeen time.Time
		if raw := r.URL.Query().Get("last_seen"); raw != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				lastSeen = parsed
			}
		}
		hub.RegisterClient(conn, lastSeen)
	})

	// REST: gap backfill. Clients that detect a channel_seq gap fetch the
	// missed envelopes here instead of resubscribing from scratch.
	mux.HandleFunc("/api/stream/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		from, errFrom := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, errTo := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if channel == "" || errFrom != nil || errTo != nil || from > to {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "channel, from and to are required"})
			return
		}

		envelopes := hub.GetReplayRange(channel, from, to)
		messages := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			messages[i] = e
		}
		json.NewEncoder(w).Encode(map[string]any{
			"channel":     channel,
			"current_seq": hub.GetChannelSeq(channel),
			"messages":    messages,
		})
	})

	// REST: stream health for dashboards.
	mux.HandleFunc("/api/stream/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		p50, p95, p99 := hub.latency.summary()
		json.NewEncoder(w).Encode(map[string]any{
			"clients":    hub.ClientCount(),
			"uptime_sec": int64(time.Since(start).Seconds()),
			"latency_ms": map[string]float64{"p50": p50, "p95": p95, "p99": p99},
		})
	})
}
