package router

import "strings"

// Action is a relay action requested by a button code.
type Action string

const (
	ActionToggle Action = "TOGGLE"
	ActionOn     Action = "ON"
	ActionOff    Action = "OFF"
)

// Capability flags carried in the credential record.
const (
	CapToggle    = "1"
	CapMomentary = "2"
)

// Profile maps remote button codes to relay actions.
type Profile struct {
	Capability string
	Name       string
	codes      map[string]Action
}

var profiles = map[string]Profile{
	CapToggle: {
		Capability: CapToggle,
		Name:       "toggle",
		codes: map[string]Action{
			"1":      ActionToggle,
			"PRESS":  ActionToggle,
			"TOGGLE": ActionToggle,
		},
	},
	CapMomentary: {
		Capability: CapMomentary,
		Name:       "momentary",
		codes: map[string]Action{
			"1":       ActionOn,
			"PRESS":   ActionOn,
			"0":       ActionOff,
			"RELEASE": ActionOff,
		},
	},
}

// ProfileFor returns the profile for a capability flag. Unknown flags get
// the toggle profile and ok=false.
func ProfileFor(capability string) (p Profile, ok bool) {
	p, ok = profiles[capability]
	if !ok {
		return profiles[CapToggle], false
	}
	return p, true
}

// Lookup maps a button code to an action.
func (p Profile) Lookup(code string) (Action, bool) {
	a, ok := p.codes[strings.ToUpper(strings.TrimSpace(code))]
	return a, ok
}
