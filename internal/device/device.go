// Package device ties the control core together. A Device owns the single
// logic.State and passes it explicitly to every component on each update
// call, so the cooperative loop fully determines ordering.
package device

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/logic"
	"github.com/sweeney/basic-switch/internal/router"
	"github.com/sweeney/basic-switch/internal/throttle"
)

// DefaultDevice is the device name used before provisioning.
const DefaultDevice = "devXX"

// Config holds the timing and identity of a device.
type Config struct {
	Device         string
	Capability     string
	Debounce       time.Duration
	PressTimeout   time.Duration
	PressThreshold int
	MaxAPTime      time.Duration
	SSID           string

	// NewSessionID generates configuration session identifiers.
	// Defaults to random UUIDs.
	NewSessionID func() string
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() Config {
	return Config{
		Device:         DefaultDevice,
		Capability:     router.CapToggle,
		Debounce:       logic.ButtonDebounce,
		PressTimeout:   logic.ButtonTimeout,
		PressThreshold: logic.PressThreshold,
		MaxAPTime:      logic.MaxAPTime,
		SSID:           logic.ConfigSSID,
		NewSessionID:   uuid.NewString,
	}
}

// CredentialSink is the networking collaborator that takes ownership of a
// committed record.
type CredentialSink interface {
	Accept(rec credentials.Record)
}

// Device is the runtime control core. Not safe for concurrent use; every
// method is called from the cooperative loop.
type Device struct {
	cfg      Config
	state    logic.State
	input    *logic.DebouncedInput
	presses  *logic.PressCounter
	modes    *logic.ModeController
	router   *router.Router
	throttle *throttle.Throttle
	creds    CredentialSink

	statusDue bool
	events    []Event
	counts    Counts
}

// New creates a device in Normal mode with the relay off.
func New(cfg Config, th *throttle.Throttle, creds CredentialSink) *Device {
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	return &Device{
		cfg:      cfg,
		state:    logic.NewState(),
		input:    logic.NewDebouncedInput(cfg.Debounce),
		presses:  logic.NewPressCounter(cfg.PressThreshold, cfg.PressTimeout),
		modes:    logic.NewModeController(cfg.MaxAPTime, cfg.SSID, cfg.NewSessionID),
		router:   router.New(cfg.Device, cfg.Capability),
		throttle: th,
		creds:    creds,
	}
}

// State returns a copy of the current state.
func (d *Device) State() logic.State {
	s := d.state
	if s.Session != nil {
		session := *s.Session
		s.Session = &session
	}
	return s
}

// Topics returns the topic set for the current device name.
func (d *Device) Topics() router.Topics {
	return d.router.Topics()
}

// Counts returns event counts since startup.
func (d *Device) Counts() Counts {
	return d.counts
}

// Threshold returns the number of presses that enters configuration mode.
func (d *Device) Threshold() int {
	return d.presses.Threshold()
}

// Remaining returns the time left in the configuration session.
func (d *Device) Remaining(now time.Time) time.Duration {
	return d.modes.Remaining(&d.state, now)
}

// Drain returns and clears the events accumulated since the last call.
func (d *Device) Drain() []Event {
	out := d.events
	d.events = nil
	return out
}

// Step runs one poll pass: session expiry, the button sample, the passive
// press window timeout and throttled publishes. It returns every event
// accumulated since the last Drain.
func (d *Device) Step(held bool, now time.Time) []Event {
	d.expire(now)

	if ev := d.input.Sample(held, now); ev != nil && ev.Kind == logic.Press {
		d.onPress(now)
	}

	d.presses.Expire(&d.state.Window, now)

	for _, del := range d.throttle.Flush(now) {
		d.emit(Event{
			Timestamp: now,
			Type:      EventPublish,
			Slot:      del.Slot,
			Topic:     del.Message.Topic,
			Publish:   throttle.Sent,
			Err:       del.Err,
		})
	}

	return d.Drain()
}

// Handle dispatches one inbound message.
func (d *Device) Handle(msg router.Message, now time.Time) router.Result {
	d.expire(now)

	d.statusDue = true
	res := d.router.Dispatch(&d.state, d, msg, now)
	d.emit(Event{Timestamp: now, Type: EventCommand, Command: res})
	d.settle(res, now)
	return res
}

// EnterSetup starts a configuration session for the given reason. It is a
// no-op returning false while already configuring.
func (d *Device) EnterSetup(now time.Time, reason string) bool {
	if !d.modes.Enter(&d.state, now) {
		return false
	}
	d.state.Window = logic.PressWindow{State: logic.PressIdle}
	d.emit(Event{
		Timestamp: now,
		Type:      EventModeEntered,
		Reason:    reason,
		Session:   *d.state.Session,
	})
	return true
}

// BeginCapture returns an empty credential builder bound to the running
// session. It fails with logic.ErrInvalidState outside configuration mode.
func (d *Device) BeginCapture(now time.Time) (*credentials.Builder, error) {
	d.expire(now)
	if d.state.Mode != logic.ModeConfiguring {
		return nil, fmt.Errorf("begin capture in %s mode: %w", d.state.Mode, logic.ErrInvalidState)
	}
	return credentials.NewBuilder(d.state.Session.ID), nil
}

// Commit completes the builder, hands the record to the networking
// collaborator and returns the device to Normal mode.
func (d *Device) Commit(b *credentials.Builder, now time.Time) (credentials.Record, error) {
	d.expire(now)
	if d.state.Mode != logic.ModeConfiguring {
		return credentials.Record{}, fmt.Errorf("commit in %s mode: %w", d.state.Mode, logic.ErrInvalidState)
	}
	if b == nil || b.Session() != d.state.Session.ID {
		return credentials.Record{}, fmt.Errorf("commit builder from another session: %w", logic.ErrInvalidState)
	}

	rec, err := b.Build()
	if err != nil {
		return credentials.Record{}, err
	}

	if d.creds != nil {
		d.creds.Accept(rec)
	}

	provisioned := Event{Timestamp: now, Type: EventProvisioned, Device: rec.Device()}
	if !d.router.Configure(rec.Device(), rec.Capability()) {
		provisioned.Reason = fmt.Sprintf("unknown capability %q, using %s profile", rec.Capability(), d.router.Profile().Name)
	}
	d.emit(provisioned)

	session := d.modes.Exit(&d.state)
	d.emit(Event{
		Timestamp: now,
		Type:      EventModeExited,
		Reason:    logic.ReasonProvisioned,
		Session:   *session,
	})
	return rec, nil
}

// Provision runs a whole capture: begin, set every supplied field, commit.
// Every rejected field is reported in the returned error.
func (d *Device) Provision(values map[credentials.Field]string, now time.Time) (credentials.Record, error) {
	b, err := d.BeginCapture(now)
	if err != nil {
		return credentials.Record{}, err
	}
	if err := b.SetAll(values); err != nil {
		return credentials.Record{}, err
	}
	return d.Commit(b, now)
}

// ReportIdentity queues the firmware identifier, version and description.
func (d *Device) ReportIdentity(now time.Time) {
	t := d.router.Topics()
	d.publish(router.SlotIdentity, throttle.Message{Topic: t.FWIdent, Payload: []byte(router.FWIdentifier)}, now)
	d.publish(router.SlotIdentity, throttle.Message{Topic: t.FWVersion, Payload: []byte(router.FWVersion)}, now)
	d.publish(router.SlotIdentity, throttle.Message{Topic: t.FWDesc, Payload: []byte(router.FWDescription)}, now)
}

// ReportStatus publishes the relay state, retained.
func (d *Device) ReportStatus(now time.Time) {
	if d.statusDue {
		// Inside a dispatch; settle publishes after the relay event
		return
	}
	d.publishStatus(now)
}

// RequestSetup enters configuration mode on behalf of a SETUP command.
func (d *Device) RequestSetup(now time.Time) bool {
	return d.EnterSetup(now, logic.ReasonCommand)
}

func (d *Device) publishStatus(now time.Time) {
	d.publish(router.SlotStatus, throttle.Message{
		Topic:    d.router.Topics().Status,
		Payload:  []byte(logic.StateString(d.state.Relay.On)),
		Retained: true,
	}, now)
}

func (d *Device) onPress(now time.Time) {
	if d.state.Mode == logic.ModeConfiguring {
		d.emit(Event{Timestamp: now, Type: EventPress, Reason: ReasonDiscarded})
		return
	}

	res := d.apply(router.ActionToggle, now)
	d.settle(res, now)

	triggered := d.presses.Press(&d.state.Window, now)
	d.emit(Event{Timestamp: now, Type: EventPress, Count: d.state.Window.Count})
	if triggered {
		d.EnterSetup(now, logic.ReasonButton)
	}
}

// apply runs a relay action with status reporting held back until settle.
func (d *Device) apply(action router.Action, now time.Time) router.Result {
	d.statusDue = true
	return d.router.Apply(&d.state, d, action, now)
}

// settle emits the relay event for a result, then the status report.
func (d *Device) settle(res router.Result, now time.Time) {
	d.statusDue = false
	if !res.Changed {
		return
	}
	d.emit(Event{Timestamp: now, Type: EventRelay, Relay: res.Relay})
	d.publishStatus(now)
}

func (d *Device) expire(now time.Time) {
	if s := d.modes.Expire(&d.state, now); s != nil {
		d.emit(Event{
			Timestamp: now,
			Type:      EventModeExited,
			Reason:    logic.ReasonExpired,
			Session:   *s,
		})
	}
}

func (d *Device) publish(slot throttle.Slot, msg throttle.Message, now time.Time) {
	r, err := d.throttle.TrySend(slot, msg, now)
	d.emit(Event{
		Timestamp: now,
		Type:      EventPublish,
		Slot:      slot,
		Topic:     msg.Topic,
		Publish:   r,
		Err:       err,
	})
}

func (d *Device) emit(e Event) {
	d.counts.record(e)
	d.events = append(d.events, e)
}
