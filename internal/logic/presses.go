package logic

import "time"

// PressCounter counts consecutive presses and signals when the threshold
// gesture is complete. It keeps no state of its own; the window lives in
// State so the loop owns every mutation.
type PressCounter struct {
	threshold int
	timeout   time.Duration
}

// NewPressCounter creates a counter. A threshold below 1 is treated as 1.
func NewPressCounter(threshold int, timeout time.Duration) *PressCounter {
	if threshold < 1 {
		threshold = 1
	}
	return &PressCounter{threshold: threshold, timeout: timeout}
}

// Threshold returns the press count that triggers configuration mode.
func (p *PressCounter) Threshold() int {
	return p.threshold
}

// Press records a qualifying press at now and reports whether it completed
// the gesture. An expired window is reset before the press is counted.
func (p *PressCounter) Press(w *PressWindow, now time.Time) bool {
	p.Expire(w, now)

	if w.State != PressCounting {
		w.Count = 0
	}
	w.Count++
	w.LastPressTime = now
	w.State = PressCounting

	if w.Count >= p.threshold {
		w.State = PressTriggered
		return true
	}
	return false
}

// Expire performs the passive Counting -> Idle transition. It reports
// whether the window was reset.
func (p *PressCounter) Expire(w *PressWindow, now time.Time) bool {
	switch w.State {
	case PressCounting:
		if now.Sub(w.LastPressTime) < p.timeout {
			return false
		}
	case PressTriggered:
		// Consumed by the mode controller on the pass that produced it
	default:
		return false
	}
	w.State = PressIdle
	w.Count = 0
	return true
}
