//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

// RealButton reads the button from actual hardware using the Linux GPIO
// character device.
type RealButton struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	// edge mode only
	edges   bool
	held    atomic.Bool
	changed chan struct{}
}

// NewRealButton requests the button line as a pulled-up input. With edges
// set, the level is tracked from kernel edge events instead of being read on
// every poll.
func NewRealButton(chipName string, pin int, edges bool) (*RealButton, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	b := &RealButton{chip: chip, edges: edges, changed: make(chan struct{}, 1)}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp}
	if edges {
		opts = append(opts, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(b.onEdge))
	}

	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}
	b.line = line

	if edges {
		// Seed the level; edges only report changes
		raw, err := line.Value()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("read button pin %d: %w", pin, err)
		}
		b.held.Store(raw == 0)
	}

	return b, nil
}

// onEdge runs on the gpiocdev watcher goroutine.
func (b *RealButton) onEdge(evt gpiocdev.LineEvent) {
	// Falling edge = contact closed = held
	b.held.Store(evt.Type == gpiocdev.LineEventFallingEdge)
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// Held returns the logical button level.
// Inverts raw GPIO: raw low (0) = held, raw high (1) = released.
func (b *RealButton) Held() (bool, error) {
	if b.edges {
		return b.held.Load(), nil
	}
	raw, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	return raw == 0, nil
}

// Changed signals after an edge. It never fires in polling mode.
func (b *RealButton) Changed() <-chan struct{} {
	return b.changed
}

// Close releases the line and the chip.
func (b *RealButton) Close() error {
	var errs []error
	if b.line != nil {
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RealOutput drives a relay or LED line.
type RealOutput struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewRealOutput requests pin as an output, initially off. With activeLow
// the line is driven low for on, as the Sonoff status LED is wired.
func NewRealOutput(chipName string, pin int, activeLow bool) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	o := &RealOutput{chip: chip, activeLow: activeLow}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(o.raw(false)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	o.line = line
	return o, nil
}

func (o *RealOutput) raw(on bool) int {
	if on != o.activeLow {
		return 1
	}
	return 0
}

// Set drives the line to the logical state on.
func (o *RealOutput) Set(on bool) error {
	if err := o.line.SetValue(o.raw(on)); err != nil {
		return fmt.Errorf("set output pin: %w", err)
	}
	return nil
}

// Close switches the output off and releases the line.
// The relay must not stay energized once the process is gone.
func (o *RealOutput) Close() error {
	var errs []error
	if o.line != nil {
		if err := o.line.SetValue(o.raw(false)); err != nil {
			errs = append(errs, fmt.Errorf("switch off output pin: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output pin: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
