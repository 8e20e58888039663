package client

import (
	"chatus/canvas"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrokeBatcher(t *testing.T) {
	t.Parallel()
	b := newStrokeBatcher(3)
	assert.False(t, b.HasPending())

	assert.False(t, b.Add(canvas.Stroke{Id: "a"}))
	assert.False(t, b.Add(canvas.Stroke{Id: "b"}))
	assert.True(t, b.HasPending())
	assert.True(t, b.Add(canvas.Stroke{Id: "c"}))

	got := b.Take()
	assert.Equal(t, []canvas.Stroke{{Id: "a"}, {Id: "b"}, {Id: "c"}}, got)
	assert.False(t, b.HasPending())
	assert.Empty(t, b.Take())
}

func TestStrokeBatcher_MinimumSize(t *testing.T) {
	t.Parallel()
	b := newStrokeBatcher(0)
	assert.True(t, b.Add(canvas.Stroke{Id: "a"}), "a batch holds at least one stroke")
}
