// Package status provides a thread-safe status tracker for the basic-switch daemon.
// It is written by the control loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/basic-switch/internal/device"
	"github.com/sweeney/basic-switch/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs           int64
	DebounceMs       int64
	PressTimeoutMs   int64
	PublishSpacingMs int64
	MaxAPSeconds     int64
	PressThreshold   int
	Capability       string
	StatusAddr       string
	PortalAddr       string
	SSID             string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	State     logic.State
	Remaining time.Duration
	Counts    device.Counts

	Device        string
	Broker        string
	MQTTConnected bool
	Buffered      int
	Dropped       int

	StartTime time.Time
	Now       time.Time
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.NewState(),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the device state, session time left, and event counts.
// Called from runLoop on every tick. st must already be a copy.
func (t *Tracker) Update(st logic.State, remaining time.Duration, counts device.Counts) {
	t.mu.Lock()
	t.snap.State = st
	t.snap.Remaining = remaining
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetIdentity sets the device name and broker URL in use.
func (t *Tracker) SetIdentity(deviceName, broker string) {
	t.mu.Lock()
	t.snap.Device = deviceName
	t.snap.Broker = broker
	t.mu.Unlock()
}

// SetMQTT sets the MQTT connection status, the offline buffer depth and the
// number of buffered publishes lost.
func (t *Tracker) SetMQTT(connected bool, buffered, dropped int) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.snap.Buffered = buffered
	t.snap.Dropped = dropped
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.State.Session != nil {
		session := *s.State.Session
		s.State.Session = &session
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
