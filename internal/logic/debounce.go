package logic

import "time"

// DebouncedInput filters contact bounce on a single digital input.
// The stable level flips only after the raw level has held the opposite
// value continuously for the debounce duration.
type DebouncedInput struct {
	debounce     time.Duration
	held         bool // stable (debounced) level
	pending      bool
	hasPending   bool
	pendingSince time.Time
}

// NewDebouncedInput creates an input that starts in the released state.
func NewDebouncedInput(debounce time.Duration) *DebouncedInput {
	return &DebouncedInput{debounce: debounce}
}

// Sample feeds one raw level taken at now. It returns an edge event when the
// stable level changes, nil otherwise.
func (d *DebouncedInput) Sample(held bool, now time.Time) *ButtonEvent {
	if held == d.held {
		// Back at the stable level, drop any glitch in progress
		d.hasPending = false
		return nil
	}

	if !d.hasPending || d.pending != held {
		d.pending = held
		d.hasPending = true
		d.pendingSince = now
		// A zero debounce accepts the first differing sample
		if d.debounce > 0 {
			return nil
		}
	}

	if now.Sub(d.pendingSince) < d.debounce {
		return nil
	}

	d.held = held
	d.hasPending = false

	kind := Release
	if held {
		kind = Press
	}
	return &ButtonEvent{Time: now, Kind: kind}
}

// Held reports the current debounced level.
func (d *DebouncedInput) Held() bool {
	return d.held
}
