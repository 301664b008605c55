package gateway

import "sync"

// replayedMsg is one retained envelope: the channel-local sequence it was
// broadcast under plus the pre-built envelope bytes.
type replayedMsg struct {
	channelSeq int64
	envelope   []byte
}

// replayLog retains the most recent divergence and regime envelopes for a
// single pub channel. Clients that spot a channel_seq gap backfill from it
// over /api/stream/missed instead of resubscribing and losing the stream
// position.
type replayLog struct {
	mu     sync.RWMutex
	max    int
	oldest int // index of the oldest retained message once recycling starts
	msgs   []replayedMsg
}

func newReplayLog(max int) *replayLog {
	if max <= 0 {
		max = replayCapacity
	}
	return &replayLog{max: max}
}

// add retains an envelope under its channel sequence, recycling the oldest
// slot once the log is at capacity. The bytes are copied: broadcast fan-out
// reuses its build buffer.
func (l *replayLog) add(channelSeq int64, envelope []byte) {
	held := append([]byte(nil), envelope...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.msgs) < l.max {
		l.msgs = append(l.msgs, replayedMsg{channelSeq, held})
		return
	}
	l.msgs[l.oldest] = replayedMsg{channelSeq, held}
	l.oldest = (l.oldest + 1) % l.max
}

// between returns the retained envelopes with channel_seq in [from, to],
// oldest first. Sequences already recycled out of the log are simply
// absent: the caller reports current_seq so the client can tell a short
// answer from an empty channel.
func (l *replayLog) between(from, to int64) [][]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out [][]byte
	for i := 0; i < len(l.msgs); i++ {
		m := l.msgs[(l.oldest+i)%l.max]
		if m.channelSeq >= from && m.channelSeq <= to {
			out = append(out, m.envelope)
		}
	}
	return out
}

// size reports how many envelopes are currently retained.
func (l *replayLog) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
