package journal

import (
	"fmt"
	"sync"
	"time"

	"landkeeper/engine/internal/value"
)

// Recorder fans runtime journal writes out to one bundle per Land, creating
// writers on first use so every bundle contains exactly one Land's history.
// It implements the runtime's Recorder hook. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	root    string
	clock   func() time.Time
	writers map[string]*Writer
	closed  bool
}

// NewRecorder prepares a multi-Land journal rooted at root.
func NewRecorder(root string, clock func() time.Time) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("journal root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{
		root:    root,
		clock:   clock,
		writers: make(map[string]*Writer),
	}, nil
}

// writerFor returns the Land's bundle writer, opening it on first use.
func (r *Recorder) writerFor(landID string) (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("journal recorder closed")
	}
	if writer, ok := r.writers[landID]; ok {
		return writer, nil
	}
	writer, _, err := NewWriter(r.root, landID, r.clock)
	if err != nil {
		return nil, err
	}
	r.writers[landID] = writer
	return writer, nil
}

// RecordFrame appends one committed broadcast frame to the Land's bundle.
// Journal failures never reach the runtime; a Land outlives its journal.
func (r *Recorder) RecordFrame(landID string, tickID int64, patches []value.Patch) {
	if r == nil {
		return
	}
	writer, err := r.writerFor(landID)
	if err != nil {
		return
	}
	_ = writer.AppendFrame(landID, tickID, patches)
}

// RecordSnapshot appends a base snapshot to the Land's bundle.
func (r *Recorder) RecordSnapshot(landID string, tickID int64, snapshot value.Snapshot) {
	if r == nil {
		return
	}
	writer, err := r.writerFor(landID)
	if err != nil {
		return
	}
	_ = writer.AppendSnapshot(tickID, snapshot)
}

// Close flushes and closes every open bundle, surfacing the first failure.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for _, writer := range r.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.writers = nil
	return firstErr
}
