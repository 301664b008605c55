package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// Broadcaster builds envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast sends data on a channel to all subscribed clients. The envelope
// is hand-assembled: this runs once per PubSub message and json.Marshal on
// the re-wrapped payload costs more than it buys. Includes per-channel seq
// for client-side gap detection.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	// Divergence events carry their publish time; sample the fan-out lag.
	if srcTS := extractPublishTime(data); !srcTS.IsZero() {
		latencyMs := float64(now.Sub(srcTS).Microseconds()) / 1000.0
		if latencyMs >= 0 {
			b.hub.latency.observe(latencyMs)
		}
	}

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	b.hub.seq++
	seq := b.hub.seq

	rl, exists := b.hub.replay[channel]
	if !exists {
		rl = newReplayLog(replayCapacity)
		b.hub.replay[channel] = rl
	}
	b.hub.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	rl.add(channelSeq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// extractPublishTime pulls the "at" field out of a lifecycle event payload.
// Returns the zero time for payloads without one (regime snapshots).
func extractPublishTime(data []byte) time.Time {
	var partial struct {
		At time.Time `json:"at"`
	}
	if err := json.Unmarshal(data, &partial); err == nil {
		return partial.At
	}
	return time.Time{}
}
