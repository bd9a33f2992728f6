package land

import (
	"sync"
	"time"
)

// TickStatsSnapshot summarises observed tick durations for one Land.
type TickStatsSnapshot struct {
	Samples int
	Skipped int64
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// AverageTPS derives the ticks-per-second equivalent of the sampled duration.
func (s TickStatsSnapshot) AverageTPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickStats accumulates timing statistics for a Land's tick loop.
type TickStats struct {
	mu      sync.Mutex
	samples int
	skipped int64
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewTickStats constructs an empty collector.
func NewTickStats() *TickStats {
	return &TickStats{}
}

// Observe records the duration of a completed tick.
func (m *TickStats) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	//1.- Accumulate the sample count and aggregate duration for averages.
	m.samples++
	m.total += duration
	//2.- Track the worst-case tick so operators can spot spikes quickly.
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// ObserveSkip records a tick boundary that fired while the previous tick was
// still executing.
func (m *TickStats) ObserveSkip() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickStats) Snapshot() TickStatsSnapshot {
	if m == nil {
		return TickStatsSnapshot{}
	}
	m.mu.Lock()
	samples := m.samples
	skipped := m.skipped
	total := m.total
	max := m.max
	last := m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return TickStatsSnapshot{Samples: samples, Skipped: skipped, Average: average, Max: max, Last: last}
}

// Reset clears the accumulated statistics.
func (m *TickStats) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples = 0
	m.skipped = 0
	m.total = 0
	m.max = 0
	m.last = 0
	m.mu.Unlock()
}
