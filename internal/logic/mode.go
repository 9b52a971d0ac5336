package logic

import "time"

// ModeController owns the Normal <-> Configuring transitions and the
// configuration session expiry.
type ModeController struct {
	maxAPTime time.Duration
	ssid      string
	newID     func() string
}

// NewModeController creates a controller. newID generates session
// identifiers; a nil newID leaves them empty.
func NewModeController(maxAPTime time.Duration, ssid string, newID func() string) *ModeController {
	if newID == nil {
		newID = func() string { return "" }
	}
	return &ModeController{
		maxAPTime: maxAPTime,
		ssid:      ssid,
		newID:     newID,
	}
}

// Enter starts a configuration session. It is a no-op returning false if a
// session is already running.
func (m *ModeController) Enter(st *State, now time.Time) bool {
	if st.Mode == ModeConfiguring {
		return false
	}
	st.Mode = ModeConfiguring
	st.Session = &ConfigSession{
		ID:        m.newID(),
		StartTime: now,
		SSID:      m.ssid,
	}
	return true
}

// Exit ends the running session and returns to Normal. It returns the
// ended session, or nil if the device was not configuring.
func (m *ModeController) Exit(st *State) *ConfigSession {
	if st.Mode != ModeConfiguring {
		return nil
	}
	ended := st.Session
	st.Mode = ModeNormal
	st.Session = nil
	return ended
}

// Expire ends the session once it has lasted the maximum access point time.
// It returns the expired session, or nil.
func (m *ModeController) Expire(st *State, now time.Time) *ConfigSession {
	if st.Mode != ModeConfiguring || st.Session == nil {
		return nil
	}
	if now.Sub(st.Session.StartTime) < m.maxAPTime {
		return nil
	}
	return m.Exit(st)
}

// Remaining returns the time left in the running session, or zero.
func (m *ModeController) Remaining(st *State, now time.Time) time.Duration {
	if st.Mode != ModeConfiguring || st.Session == nil {
		return 0
	}
	left := m.maxAPTime - now.Sub(st.Session.StartTime)
	if left < 0 {
		return 0
	}
	return left
}
