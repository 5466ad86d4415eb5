package gameflow

import "time"

// anchor holds the wall-clock timestamps the local countdown derives
// from. The anchor is immutable between pause/resume boundaries; every
// tick is a pure re-evaluation against it, never an accumulation.
type anchor struct {
	questionID    string
	questionIndex int
	start         time.Time
	end           time.Time
}

// duration returns the question duration carried by the anchor, falling
// back to def when the end timestamp is unknown.
func (a anchor) duration(def time.Duration) time.Duration {
	if !a.start.IsZero() && !a.end.IsZero() && a.end.After(a.start) {
		return a.end.Sub(a.start)
	}
	return def
}

// computeRemaining derives the remaining countdown at now:
// max(0, duration - (now - start)).
func computeRemaining(a anchor, def time.Duration, now time.Time) time.Duration {
	dur := a.duration(def)
	if a.start.IsZero() {
		return dur
	}
	rem := dur - now.Sub(a.start)
	if rem < 0 {
		return 0
	}
	return rem
}

// shiftedForResume rebuilds the anchor so that the countdown continues
// from remaining at now, keeping the duration derived from the original
// source timestamps. Paused wall-clock time is thereby excluded from
// elapsed duration.
func (a anchor) shiftedForResume(def time.Duration, remaining time.Duration, now time.Time) anchor {
	dur := a.duration(def)
	if remaining > dur {
		remaining = dur
	}
	next := a
	next.start = now.Add(-(dur - remaining))
	next.end = next.start.Add(dur)
	return next
}

// TimerState is the derived countdown view. It is recomputed from the
// anchor plus wall-clock now; it is never persisted.
type TimerState struct {
	QuestionID    string
	QuestionIndex int
	StartTime     time.Time
	EndTime       time.Time
	Remaining     time.Duration
	Active        bool
}
