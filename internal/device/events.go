package device

import (
	"time"

	"github.com/sweeney/basic-switch/internal/logic"
	"github.com/sweeney/basic-switch/internal/router"
	"github.com/sweeney/basic-switch/internal/throttle"
)

// EventType identifies what happened during an update call.
type EventType string

const (
	EventPress       EventType = "PRESS"
	EventRelay       EventType = "RELAY"
	EventModeEntered EventType = "MODE_ENTERED"
	EventModeExited  EventType = "MODE_EXITED"
	EventCommand     EventType = "COMMAND"
	EventPublish     EventType = "PUBLISH"
	EventProvisioned EventType = "PROVISIONED"
)

// ReasonDiscarded marks a press that arrived while configuring.
const ReasonDiscarded = "configuring"

// Event is a state change or side effect the loop must act on or record.
type Event struct {
	Timestamp time.Time
	Type      EventType

	// Press
	Count int

	// Relay
	Relay bool

	// Mode changes
	Reason  string
	Session logic.ConfigSession

	// Command
	Command router.Result

	// Publish
	Slot    throttle.Slot
	Topic   string
	Publish throttle.Result
	Err     error

	// Provisioned
	Device string
}

// Counts tracks events since startup.
type Counts struct {
	Presses    int
	RelayOn    int
	RelayOff   int
	Commands   int
	Ignored    int
	Suspended  int
	Sessions   int
	Deferred   int
	Provisions int
}

func (c *Counts) record(e Event) {
	switch e.Type {
	case EventPress:
		c.Presses++
	case EventRelay:
		if e.Relay {
			c.RelayOn++
		} else {
			c.RelayOff++
		}
	case EventCommand:
		c.Commands++
		switch e.Command.Outcome {
		case router.OutcomeIgnored:
			c.Ignored++
		case router.OutcomeSuspended:
			c.Suspended++
		}
	case EventModeEntered:
		c.Sessions++
	case EventPublish:
		if e.Publish == throttle.Deferred {
			c.Deferred++
		}
	case EventProvisioned:
		c.Provisions++
	}
}
