// Package router maps inbound command messages to relay and mode
// transitions and requests outbound reports.
package router

import (
	"strings"
	"time"

	"github.com/sweeney/basic-switch/internal/logic"
)

// Message is an inbound command.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Outcome classifies how a message was handled.
type Outcome string

const (
	OutcomeApplied   Outcome = "APPLIED"
	OutcomeUnchanged Outcome = "UNCHANGED" // recognized, state already matched
	OutcomeIgnored   Outcome = "IGNORED"   // recognized topic, payload not acted on
	OutcomeSuspended Outcome = "SUSPENDED" // device is configuring
)

// Result describes one dispatch.
type Result struct {
	Suffix  string
	Payload string
	Outcome Outcome
	Reason  string
	Changed bool // relay state changed
	Relay   bool // relay state after dispatch
}

// Effects are the side effects a command may request from the device.
type Effects interface {
	ReportIdentity(now time.Time)
	ReportStatus(now time.Time)
	RequestSetup(now time.Time) bool
}

// Access is the capability set of a table entry.
type Access uint8

const (
	ReadsCommand Access = 1 << iota
	WritesState
)

type handler func(r *Router, st *logic.State, fx Effects, msg Message, now time.Time) Result

type entry struct {
	access Access
	handle handler
}

var table = map[string]entry{
	SuffixToggle:  {access: WritesState, handle: handleToggle},
	SuffixSwitch:  {access: WritesState, handle: handleSwitch},
	SuffixCommand: {access: ReadsCommand, handle: handleCommand},
}

// Router owns RelayState mutations. Not safe for concurrent use.
type Router struct {
	topics  Topics
	profile Profile
}

// New creates a router for a device name and capability flag.
func New(device, capability string) *Router {
	r := &Router{}
	r.Configure(device, capability)
	return r
}

// Configure switches the router to a new device name and capability. It
// reports whether the capability flag was recognized.
func (r *Router) Configure(device, capability string) bool {
	p, ok := ProfileFor(capability)
	r.topics = NewTopics(device)
	r.profile = p
	return ok
}

// Topics returns the current topic set.
func (r *Router) Topics() Topics {
	return r.topics
}

// Profile returns the active capability profile.
func (r *Router) Profile() Profile {
	return r.profile
}

func lookup(suffix string) (entry, bool) {
	e, ok := table[suffix]
	return e, ok
}

// Dispatch handles one inbound message.
func (r *Router) Dispatch(st *logic.State, fx Effects, msg Message, now time.Time) Result {
	suffix := Suffix(msg.Topic)
	res := Result{Suffix: suffix, Payload: msg.Payload, Relay: st.Relay.On}

	e, ok := lookup(suffix)
	if !ok {
		res.Outcome = OutcomeIgnored
		res.Reason = "unknown topic"
		return res
	}
	if st.Mode == logic.ModeConfiguring {
		res.Outcome = OutcomeSuspended
		res.Reason = "configuring"
		return res
	}
	if e.access&WritesState != 0 && msg.Retained {
		res.Outcome = OutcomeIgnored
		res.Reason = "retained"
		return res
	}

	out := e.handle(r, st, fx, msg, now)
	out.Suffix = suffix
	out.Payload = msg.Payload
	return out
}

// Apply performs a relay action, the same way for the local button and for
// remote button codes. A change is reported on the status slot.
func (r *Router) Apply(st *logic.State, fx Effects, action Action, now time.Time) Result {
	if st.Mode == logic.ModeConfiguring {
		return Result{Outcome: OutcomeSuspended, Reason: "configuring", Relay: st.Relay.On}
	}

	target := st.Relay.On
	switch action {
	case ActionToggle:
		target = !st.Relay.On
	case ActionOn:
		target = true
	case ActionOff:
		target = false
	default:
		return Result{Outcome: OutcomeIgnored, Reason: "unknown action", Relay: st.Relay.On}
	}

	if !st.Relay.Set(target, now) {
		return Result{Outcome: OutcomeUnchanged, Relay: st.Relay.On}
	}
	fx.ReportStatus(now)
	return Result{Outcome: OutcomeApplied, Changed: true, Relay: st.Relay.On}
}

func normalize(payload string) string {
	return strings.ToUpper(strings.TrimSpace(payload))
}

func handleToggle(r *Router, st *logic.State, fx Effects, _ Message, now time.Time) Result {
	return r.Apply(st, fx, ActionToggle, now)
}

func handleSwitch(r *Router, st *logic.State, fx Effects, msg Message, now time.Time) Result {
	switch normalize(msg.Payload) {
	case PayloadOn:
		return r.Apply(st, fx, ActionOn, now)
	case PayloadOff:
		return r.Apply(st, fx, ActionOff, now)
	}
	if action, ok := r.profile.Lookup(msg.Payload); ok {
		return r.Apply(st, fx, action, now)
	}
	return Result{Outcome: OutcomeIgnored, Reason: "unknown button code", Relay: st.Relay.On}
}

func handleCommand(_ *Router, st *logic.State, fx Effects, msg Message, now time.Time) Result {
	switch normalize(msg.Payload) {
	case PayloadInfo:
		fx.ReportIdentity(now)
		return Result{Outcome: OutcomeApplied, Relay: st.Relay.On}
	case PayloadSetup:
		if msg.Retained {
			return Result{Outcome: OutcomeIgnored, Reason: "retained", Relay: st.Relay.On}
		}
		if !fx.RequestSetup(now) {
			return Result{Outcome: OutcomeUnchanged, Relay: st.Relay.On}
		}
		return Result{Outcome: OutcomeApplied, Relay: st.Relay.On}
	}
	return Result{Outcome: OutcomeIgnored, Reason: "unknown command", Relay: st.Relay.On}
}
