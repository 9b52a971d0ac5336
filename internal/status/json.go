package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/basic-switch/internal/device"
	"github.com/sweeney/basic-switch/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Device        string       `json:"device"`
	Mode          string       `json:"mode"`
	Relay         string       `json:"relay"`
	RelayChanged  string       `json:"relay_changed,omitempty"`
	Presses       PressJSON    `json:"presses"`
	Session       *SessionJSON `json:"session,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Config        ConfigJSON   `json:"config"`
}

// PressJSON is the JSON representation of the press window.
type PressJSON struct {
	State     string `json:"state"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
}

// SessionJSON describes the running configuration session.
type SessionJSON struct {
	ID               string `json:"id"`
	SSID             string `json:"ssid"`
	StartTime        string `json:"start_time"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
	Dropped   int    `json:"dropped"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Presses    int `json:"presses"`
	RelayOn    int `json:"relay_on"`
	RelayOff   int `json:"relay_off"`
	Commands   int `json:"commands"`
	Ignored    int `json:"ignored"`
	Suspended  int `json:"suspended"`
	Sessions   int `json:"sessions"`
	Deferred   int `json:"deferred"`
	Provisions int `json:"provisions"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs           int64  `json:"poll_ms"`
	DebounceMs       int64  `json:"debounce_ms"`
	PressTimeoutMs   int64  `json:"press_timeout_ms"`
	PublishSpacingMs int64  `json:"publish_spacing_ms"`
	MaxAPSeconds     int64  `json:"max_ap_seconds"`
	Capability       string `json:"capability"`
	StatusAddr       string `json:"status_addr"`
	PortalAddr       string `json:"portal_addr"`
	SSID             string `json:"ssid"`
}

func countsJSON(c device.Counts) CountsJSON {
	return CountsJSON{
		Presses:    c.Presses,
		RelayOn:    c.RelayOn,
		RelayOff:   c.RelayOff,
		Commands:   c.Commands,
		Ignored:    c.Ignored,
		Suspended:  c.Suspended,
		Sessions:   c.Sessions,
		Deferred:   c.Deferred,
		Provisions: c.Provisions,
	}
}

func buildInner(snap Snapshot) StatusInner {
	mode := string(snap.State.Mode)
	if mode == "" {
		mode = "UNKNOWN"
	}

	inner := StatusInner{
		Device: snap.Device,
		Mode:   mode,
		Relay:  logic.StateString(snap.State.Relay.On),
		Presses: PressJSON{
			State:     string(snap.State.Window.State),
			Count:     snap.State.Window.Count,
			Threshold: snap.Config.PressThreshold,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Broker,
			Buffered:  snap.Buffered,
			Dropped:   snap.Dropped,
		},
		Counts: countsJSON(snap.Counts),
		Config: ConfigJSON{
			PollMs:           snap.Config.PollMs,
			DebounceMs:       snap.Config.DebounceMs,
			PressTimeoutMs:   snap.Config.PressTimeoutMs,
			PublishSpacingMs: snap.Config.PublishSpacingMs,
			MaxAPSeconds:     snap.Config.MaxAPSeconds,
			Capability:       snap.Config.Capability,
			StatusAddr:       snap.Config.StatusAddr,
			PortalAddr:       snap.Config.PortalAddr,
			SSID:             snap.Config.SSID,
		},
	}
	if !snap.State.Relay.Changed.IsZero() {
		inner.RelayChanged = snap.State.Relay.Changed.UTC().Format(time.RFC3339)
	}
	if s := snap.State.Session; s != nil {
		inner.Session = &SessionJSON{
			ID:               s.ID,
			SSID:             s.SSID,
			StartTime:        s.StartTime.UTC().Format(time.RFC3339),
			RemainingSeconds: int64(snap.Remaining.Truncate(time.Second).Seconds()),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
