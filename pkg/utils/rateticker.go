package utils

import "time"

// RateTicker measures event throughput over several independent sliding time
// windows. Tick records one event and returns, per window, the number of
// events observed within that window divided by the window's duration
// (events per second). Expired timestamps are evicted on every call.
//
// NOT safe for concurrent use; it is called from the single status-print
// worker. Callers elsewhere must synchronize externally.
type RateTicker struct {
	windows []time.Duration
	ticks   [][]time.Time
	now     func() time.Time
}

// NewRateTicker creates a ticker over the given window durations, e.g.
// 1s, 5s and 10s.
func NewRateTicker(windows ...time.Duration) *RateTicker {
	return &RateTicker{
		windows: windows,
		ticks:   make([][]time.Time, len(windows)),
		now:     time.Now,
	}
}

// Windows returns the configured window durations.
func (r *RateTicker) Windows() []time.Duration {
	cp := make([]time.Duration, len(r.windows))
	copy(cp, r.windows)
	return cp
}

// Tick records one event at the current instant and returns the rate for each
// window, in the order the windows were configured.
func (r *RateTicker) Tick() []float64 {
	now := r.now()
	rates := make([]float64, len(r.windows))
	for i, w := range r.windows {
		ts := append(r.ticks[i], now)
		cut := now.Add(-w)
		j := 0
		for j < len(ts) && !ts[j].After(cut) {
			j++
		}
		if j > 0 {
			ts = append([]time.Time(nil), ts[j:]...)
		}
		r.ticks[i] = ts
		rates[i] = float64(len(ts)) / w.Seconds()
	}
	return rates
}
