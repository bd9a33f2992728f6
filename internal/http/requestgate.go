package httpapi

import (
	"sync"
	"time"
)

// RequestGate bounds how often a guarded endpoint may be hit. It keeps two
// coarse counting buckets and weighs the previous one by its remaining
// overlap with the sliding window, so memory stays constant under bursts.
type RequestGate struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	bucketAt time.Time
	current  int
	previous int
}

// NewRequestGate allows up to limit requests per window. A non-positive
// window or limit disables the gate entirely.
func NewRequestGate(window time.Duration, limit int, timeSource func() time.Time) *RequestGate {
	gate := &RequestGate{window: window, limit: limit}
	if window <= 0 || limit <= 0 {
		return gate
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	gate.now = timeSource
	return gate
}

// Allow reports whether one more request fits inside the window.
func (g *RequestGate) Allow() bool {
	if g == nil || g.limit <= 0 || g.window <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.bucketAt.IsZero() {
		g.bucketAt = now
	}

	//1.- Rotate buckets once the clock moves past the current one.
	elapsed := now.Sub(g.bucketAt)
	switch {
	case elapsed >= 2*g.window:
		g.previous, g.current = 0, 0
		g.bucketAt = now
		elapsed = 0
	case elapsed >= g.window:
		g.previous, g.current = g.current, 0
		g.bucketAt = g.bucketAt.Add(g.window)
		elapsed -= g.window
	}

	//2.- Weigh the previous bucket by how much of it the window still covers.
	overlap := 1 - float64(elapsed)/float64(g.window)
	estimated := float64(g.previous)*overlap + float64(g.current)
	if estimated >= float64(g.limit) {
		return false
	}
	g.current++
	return true
}
