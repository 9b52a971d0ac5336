package router

import (
	"strings"

	"github.com/sweeney/basic-switch/internal/throttle"
)

// Namespace is the topic family shared by every device of this firmware.
const Namespace = "simple_light"

// Topic suffixes.
const (
	SuffixToggle    = "toggle"
	SuffixSwitch    = "switch"
	SuffixCommand   = "cmd"
	SuffixStatus    = "status"
	SuffixFWIdent   = "fwident"
	SuffixFWVersion = "fwversion"
	SuffixFWDesc    = "desc"
)

// Throttle slots for outbound reports.
const (
	SlotIdentity throttle.Slot = "identity"
	SlotStatus   throttle.Slot = "status"
)

// Command payloads.
const (
	PayloadInfo  = "INFO"
	PayloadSetup = "SETUP"
	PayloadOn    = "ON"
	PayloadOff   = "OFF"
)

// Firmware identity reported on INFO.
const (
	FWIdentifier  = "00001FW"
	FWVersion     = "006"
	FWDescription = "SONOFF BASIC SWITCH"
)

// Topics is the full topic set for one device name.
type Topics struct {
	Device    string
	Toggle    string
	Switch    string
	Command   string
	Status    string
	FWIdent   string
	FWVersion string
	FWDesc    string
}

// NewTopics builds the topic set <device>/simple_light/<suffix>.
func NewTopics(device string) Topics {
	t := func(suffix string) string {
		return device + "/" + Namespace + "/" + suffix
	}
	return Topics{
		Device:    device,
		Toggle:    t(SuffixToggle),
		Switch:    t(SuffixSwitch),
		Command:   t(SuffixCommand),
		Status:    t(SuffixStatus),
		FWIdent:   t(SuffixFWIdent),
		FWVersion: t(SuffixFWVersion),
		FWDesc:    t(SuffixFWDesc),
	}
}

// Subscriptions returns the inbound topics.
func (t Topics) Subscriptions() []string {
	return []string{t.Toggle, t.Switch, t.Command}
}

// Suffix returns the part of topic after the namespace, or "" if the topic
// is outside it.
func Suffix(topic string) string {
	marker := "/" + Namespace + "/"
	i := strings.LastIndex(topic, marker)
	if i < 0 {
		return ""
	}
	return topic[i+len(marker):]
}

// Owns reports whether topic belongs to this device's namespace.
func (t Topics) Owns(topic string) bool {
	return strings.HasPrefix(topic, t.Device+"/"+Namespace+"/")
}
