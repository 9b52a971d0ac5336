// Package gpio provides the switch's button input and relay/LED outputs with
// hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Button reads the push button contact.
type Button interface {
	// Held returns the raw logical level: true while the button is pushed.
	// The contact pulls the line low, so raw 0 = held. No debouncing is done here.
	Held() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a relay or indicator line.
type Output interface {
	// Set switches the output to the logical state on.
	Set(on bool) error

	// Close releases GPIO resources, leaving the output off.
	Close() error
}

// Notifier is implemented by buttons that can signal a level change so the
// poll loop can sample early.
type Notifier interface {
	Changed() <-chan struct{}
}

// Pin definitions (Sonoff Basic wiring)
const (
	PinButton = 0
	PinRelay  = 12
	PinLED    = 13
)

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"

// NopOutput discards every write. Used when an output is not wired.
type NopOutput struct{}

// Set does nothing.
func (NopOutput) Set(bool) error { return nil }

// Close does nothing.
func (NopOutput) Close() error { return nil }
