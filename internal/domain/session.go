package domain

import (
	"time"
)

// SessionState is the lifecycle state of a tracking session.
type SessionState int

const (
	// StateIdle means no session is running.
	StateIdle SessionState = iota
	// StateRunning means a session is actively tracking.
	StateRunning
)

// String returns the human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Session holds the state of one start-to-stop tracking run.
// Exactly one Session exists per controller instance.
type Session struct {
	ID        string
	State     SessionState
	StartedAt time.Time
}

// Accumulators partitions elapsed running time between the two labels.
// Both values are monotonically non-decreasing while a session runs and
// reset to zero exactly on a start command.
type Accumulators struct {
	Focused    time.Duration
	Distracted time.Duration
}

// Total returns the elapsed running time covered by both accumulators.
func (a Accumulators) Total() time.Duration {
	return a.Focused + a.Distracted
}

// Add credits an elapsed interval to the accumulator matching label.
func (a *Accumulators) Add(label Label, d time.Duration) {
	if d <= 0 {
		return
	}
	if label == LabelDistracted {
		a.Distracted += d
	} else {
		a.Focused += d
	}
}
