// Package gateway fans divergence lifecycle events and regime snapshots
// out to WebSocket clients. It subscribes to the Redis PubSub channels the
// engine publishes on ("pub:div:*", "pub:regime:*"), keeps a latest-value
// snapshot per channel for late joiners, and buffers recent envelopes so
// clients can backfill sequence gaps over REST.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

const (
	divPattern    = "pub:div:*"
	regimePattern = "pub:regime:*"

	replayCapacity  = 500
	latencyCapacity = 10000
)

// Hub manages WebSocket clients and Redis PubSub fan-out.
type Hub struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay logs for gap backfill
	replay map[string]*replayLog

	// Publish-to-fanout latency window
	latency *fanoutLatency

	Broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub backed by the given Redis client.
func NewHub(rdb *goredis.Client) *Hub {
	h := &Hub{
		rdb:         rdb,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replay:      make(map[string]*replayLog),
		latency:     newFanoutLatency(latencyCapacity),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Run subscribes to the divergence and regime patterns and routes messages
// to connected clients. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, divPattern, regimePattern)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %s, %s", divPattern, regimePattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcaster.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// RegisterClient wires an upgraded connection into the hub and starts its
// pumps. lastSeen, when non-zero, suppresses initial-state entries the
// client already has.
func (h *Hub) RegisterClient(conn *websocket.Conn, lastSeen time.Time) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]subscription),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastSeen)
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// GetReplayRange returns buffered envelopes for a channel with sequence in
// [fromSeq, toSeq]. Used by the missed-messages REST endpoint.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rl, exists := h.replay[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	return rl.between(fromSeq, toSeq)
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatusBroadcast sends a hub status frame to all clients every
// interval. Blocks until ctx is cancelled.
func (h *Hub) StartStatusBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p50, p95, p99 := h.latency.summary()
			envelope, _ := json.Marshal(map[string]any{
				"type":       "status",
				"clients":    h.ClientCount(),
				"uptime_sec": int64(time.Since(start).Seconds()),
				"latency_ms": map[string]float64{"p50": p50, "p95": p95, "p99": p99},
				"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
