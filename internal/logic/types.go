// Package logic contains the pure runtime control core of the switch:
// button debouncing, press counting and the device mode state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"time"
)

// Default timing used by the firmware.
const (
	ButtonDebounce    = 400 * time.Millisecond
	ButtonTimeout     = 1500 * time.Millisecond
	MaxAPTime         = 300 * time.Second
	PublishTimeOffset = 200 * time.Millisecond

	// PressThreshold is the number of consecutive presses that enters
	// configuration mode.
	PressThreshold = 4

	// ConfigSSID is the access point identifier broadcast while configuring.
	ConfigSSID = "OPEN_ESP_CONFIG_AP2"
)

// ErrInvalidState is returned when an operation is attempted outside the
// device mode it requires.
var ErrInvalidState = errors.New("invalid state")

// EdgeKind is the direction of a debounced button edge.
type EdgeKind string

const (
	Press   EdgeKind = "PRESS"
	Release EdgeKind = "RELEASE"
)

// ButtonEvent is a clean edge produced by DebouncedInput.
type ButtonEvent struct {
	Time time.Time
	Kind EdgeKind
}

// Mode is the top-level device mode.
type Mode string

const (
	ModeNormal      Mode = "NORMAL"
	ModeConfiguring Mode = "CONFIGURING"
)

// Reasons for entering or leaving configuration mode.
const (
	ReasonButton        = "button"
	ReasonCommand       = "command"
	ReasonUnprovisioned = "unprovisioned"
	ReasonProvisioned   = "provisioned"
	ReasonExpired       = "expired"
)

// PressState is the state of the press counting state machine.
type PressState string

const (
	PressIdle      PressState = "IDLE"
	PressCounting  PressState = "COUNTING"
	PressTriggered PressState = "TRIGGERED"
)

// PressWindow tracks consecutive qualifying presses.
type PressWindow struct {
	State         PressState
	Count         int
	LastPressTime time.Time
}

// ConfigSession exists exactly while the device is configuring.
type ConfigSession struct {
	ID        string
	StartTime time.Time
	SSID      string
}

// RelayState is the commanded relay output.
type RelayState struct {
	On      bool
	Changed time.Time
}

// Set updates the relay and reports whether the value changed.
func (r *RelayState) Set(on bool, now time.Time) bool {
	if r.On == on {
		return false
	}
	r.On = on
	r.Changed = now
	return true
}

// State is the single owned context of the control core. Each component
// receives it explicitly on every update call.
type State struct {
	Mode    Mode
	Session *ConfigSession
	Relay   RelayState
	Window  PressWindow
}

// NewState returns the boot state: Normal mode, relay off, no presses.
func NewState() State {
	return State{
		Mode:   ModeNormal,
		Window: PressWindow{State: PressIdle},
	}
}

// StateString renders a boolean as the ON/OFF payload used on the wire.
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
