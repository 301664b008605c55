package gateway

import (
	"math"
	"sort"
	"sync"
)

// fanoutLatency measures how far behind the detector the stream runs: the
// gap between a lifecycle event's publish time (its "at" field) and the
// moment the hub rebroadcasts it off the pub:div channels. A sliding
// window of samples backs the percentile summary on /api/stream/status.
type fanoutLatency struct {
	mu     sync.Mutex
	window []float64 // milliseconds, recycled oldest-first
	next   int
	seen   int
}

func newFanoutLatency(window int) *fanoutLatency {
	if window <= 0 {
		window = latencyCapacity
	}
	return &fanoutLatency{window: make([]float64, window)}
}

// observe records one sample in milliseconds, displacing the oldest once
// the window is full.
func (f *fanoutLatency) observe(ms float64) {
	f.mu.Lock()
	f.window[f.next] = ms
	f.next = (f.next + 1) % len(f.window)
	if f.seen < len(f.window) {
		f.seen++
	}
	f.mu.Unlock()
}

// summary returns the p50/p95/p99 of the current window, in milliseconds.
// All zeros before the first sample.
func (f *fanoutLatency) summary() (p50, p95, p99 float64) {
	f.mu.Lock()
	ordered := make([]float64, f.seen)
	copy(ordered, f.window[:f.seen])
	f.mu.Unlock()

	if len(ordered) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(ordered)
	return quantile(ordered, 0.50), quantile(ordered, 0.95), quantile(ordered, 0.99)
}

// samples reports how many observations the window currently holds.
func (f *fanoutLatency) samples() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

// quantile is nearest-rank over an ascending slice.
func quantile(ordered []float64, q float64) float64 {
	i := int(math.Ceil(q*float64(len(ordered)))) - 1
	if i < 0 {
		i = 0
	}
	return ordered[i]
}
