package gameflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeRemaining(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	def := 30 * time.Second

	t.Run("mid question", func(t *testing.T) {
		a := anchor{start: base, end: base.Add(30 * time.Second)}
		got := computeRemaining(a, def, base.Add(12*time.Second))
		assert.Equal(t, 18*time.Second, got)
	})

	t.Run("late joiner computes duration minus offset", func(t *testing.T) {
		a := anchor{start: base, end: base.Add(30 * time.Second)}
		got := computeRemaining(a, def, base.Add(7*time.Second))
		assert.Equal(t, 23*time.Second, got)
	})

	t.Run("clamped at zero after expiry", func(t *testing.T) {
		a := anchor{start: base, end: base.Add(30 * time.Second)}
		got := computeRemaining(a, def, base.Add(45*time.Second))
		assert.Equal(t, time.Duration(0), got)
	})

	t.Run("falls back to default duration without end time", func(t *testing.T) {
		a := anchor{start: base}
		got := computeRemaining(a, def, base.Add(10*time.Second))
		assert.Equal(t, 20*time.Second, got)
	})

	t.Run("unanchored returns the full default", func(t *testing.T) {
		got := computeRemaining(anchor{}, def, base)
		assert.Equal(t, def, got)
	})
}

func TestShiftedForResume(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	def := 30 * time.Second
	a := anchor{questionID: "q1", start: base, end: base.Add(30 * time.Second)}

	// Paused with 18s left; resumed 90s of wall clock later.
	resumeAt := base.Add(102 * time.Second)
	shifted := a.shiftedForResume(def, 18*time.Second, resumeAt)

	assert.Equal(t, 18*time.Second, computeRemaining(shifted, def, resumeAt))
	// Duration still derives from the original source timestamps.
	assert.Equal(t, 30*time.Second, shifted.duration(def))
	assert.Equal(t, "q1", shifted.questionID)
}
