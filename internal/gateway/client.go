package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "metric:timeframe"
	subMu sync.RWMutex
	subs  map[string]subscription
}

// subscription narrows the fan-out to one metric, optionally one timeframe.
// An empty Timeframe matches every timeframe (and the regime channel, which
// carries no timeframe).
type subscription struct {
	Metric    string `json:"metric"`
	Timeframe string `json:"timeframe"`
}

func (s subscription) key() string { return s.Metric + ":" + s.Timeframe }

type subscribeMsg struct {
	Type      string `json:"type"`
	Metric    string `json:"metric"`
	Timeframe string `json:"timeframe"`
	ReqID     string `json:"req_id"`
}

func (c *Client) sendInitialState(lastSeen time.Time) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !lastSeen.IsZero() && !entry.TS.After(lastSeen) {
			continue
		}
		envelope, _ := json.Marshal(map[string]any{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"seq":     entry.Seq,
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into one frame with
			// newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var m subscribeMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "SUBSCRIBE":
			if m.Metric == "" {
				c.sendError(m.ReqID, "metric is required")
				continue
			}
			sub := subscription{Metric: m.Metric, Timeframe: m.Timeframe}
			c.subMu.Lock()
			c.subs[sub.key()] = sub
			c.subMu.Unlock()
			c.sendAck(m.ReqID, sub)
			log.Printf("[gateway] client subscribed: metric=%s timeframe=%s", m.Metric, m.Timeframe)
		case "UNSUBSCRIBE":
			sub := subscription{Metric: m.Metric, Timeframe: m.Timeframe}
			c.subMu.Lock()
			delete(c.subs, sub.key())
			c.subMu.Unlock()
		}
	}
}

func (c *Client) sendAck(reqID string, sub subscription) {
	ack, _ := json.Marshal(map[string]any{
		"type":      "subscribed",
		"req_id":    reqID,
		"metric":    sub.Metric,
		"timeframe": sub.Timeframe,
	})
	select {
	case c.send <- ack:
	default:
	}
}

func (c *Client) sendError(reqID, msg string) {
	e, _ := json.Marshal(map[string]any{"type": "error", "req_id": reqID, "error": msg})
	select {
	case c.send <- e:
	default:
	}
}

// matchesChannel reports whether the client should receive a message on the
// given channel. Clients with no subscriptions receive everything.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}

	parsed := parseChannel(channel)
	if parsed == nil {
		// Non-data channel (status frames go direct, this covers future
		// channels): always deliver.
		return true
	}

	for _, sub := range c.subs {
		if sub.Metric != parsed.metric {
			continue
		}
		if parsed.timeframe == "" || sub.Timeframe == "" || sub.Timeframe == parsed.timeframe {
			return true
		}
	}
	return false
}

// parsedChannel holds the components of a PubSub channel name.
type parsedChannel struct {
	kind      string // "div" or "regime"
	timeframe string // empty for regime channels
	metric    string
}

// parseChannel parses "pub:div:{timeframe}:{metric}" and
// "pub:regime:{metric}". Metric names may contain dots ("USDT.D") but
// never colons.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) < 3 || parts[0] != "pub" {
		return nil
	}
	switch parts[1] {
	case "div":
		if len(parts) != 4 {
			return nil
		}
		return &parsedChannel{kind: "div", timeframe: parts[2], metric: parts[3]}
	case "regime":
		return &parsedChannel{kind: "regime", metric: parts[2]}
	}
	return nil
}
