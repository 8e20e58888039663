package client

import "chatus/canvas"

// strokeBatcher accumulates outgoing strokes until the window closes or the
// batch is full.
type strokeBatcher struct {
	pending  []canvas.Stroke
	maxBatch int
}

func newStrokeBatcher(maxBatch int) *strokeBatcher {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &strokeBatcher{maxBatch: maxBatch}
}

// Add appends s and reports whether the batch must be sent now.
func (b *strokeBatcher) Add(s canvas.Stroke) bool {
	b.pending = append(b.pending, s)
	return len(b.pending) >= b.maxBatch
}

// Take returns the pending strokes and starts a new batch.
func (b *strokeBatcher) Take() []canvas.Stroke {
	out := b.pending
	b.pending = make([]canvas.Stroke, 0, b.maxBatch)
	return out
}

func (b *strokeBatcher) HasPending() bool {
	return len(b.pending) > 0
}
