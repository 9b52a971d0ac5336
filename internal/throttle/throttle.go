// Package throttle enforces a minimum spacing between outbound publishes.
//
// Each slot (a family of topics) has its own spacing limiter. A publish that
// arrives too early is deferred: the slot remembers the latest payload per
// topic and sends it at the next eligible instant. Nothing is retried beyond
// that; delivery failures belong to the transport.
package throttle

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Slot names a throttled topic family.
type Slot string

// Result is the outcome of TryPublish.
type Result string

const (
	Sent     Result = "SENT"
	Deferred Result = "DEFERRED"
)

// Message is a single outbound publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Sink is the transport that receives throttled publishes.
type Sink interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Delivery records a message handed to the sink.
type Delivery struct {
	Slot    Slot
	Message Message
	Time    time.Time
	Err     error
}

type slotState struct {
	limiter *rate.Limiter
	pending []Message // at most one per topic, first-deferred order
}

// Throttle spaces publishes per slot. Not safe for concurrent use; it is
// driven from the cooperative loop.
type Throttle struct {
	spacing time.Duration
	sink    Sink
	log     logrus.FieldLogger
	slots   map[Slot]*slotState
}

// New creates a throttle with the given minimum spacing per slot.
func New(spacing time.Duration, sink Sink, log logrus.FieldLogger) *Throttle {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Throttle{
		spacing: spacing,
		sink:    sink,
		log:     log,
		slots:   make(map[Slot]*slotState),
	}
}

func (t *Throttle) slot(s Slot) *slotState {
	st, ok := t.slots[s]
	if !ok {
		limit := rate.Inf
		if t.spacing > 0 {
			limit = rate.Every(t.spacing)
		}
		st = &slotState{limiter: rate.NewLimiter(limit, 1)}
		t.slots[s] = st
	}
	return st
}

// TryPublish sends msg now if the slot is eligible and has nothing pending.
// Otherwise the message is coalesced into the slot and Deferred is returned;
// the caller must not resend it.
func (t *Throttle) TryPublish(s Slot, msg Message, now time.Time) Result {
	r, _ := t.TrySend(s, msg, now)
	return r
}

// TrySend is TryPublish that also returns the sink error of an immediate
// send.
func (t *Throttle) TrySend(s Slot, msg Message, now time.Time) (Result, error) {
	st := t.slot(s)
	if len(st.pending) == 0 && st.limiter.AllowN(now, 1) {
		return Sent, t.deliver(s, msg, now).Err
	}
	st.coalesce(msg)
	return Deferred, nil
}

// Flush sends at most one pending message per eligible slot and returns
// what was delivered. Call it once per loop pass.
func (t *Throttle) Flush(now time.Time) []Delivery {
	var out []Delivery
	for s, st := range t.slots {
		if len(st.pending) == 0 {
			continue
		}
		if !st.limiter.AllowN(now, 1) {
			continue
		}
		msg := st.pending[0]
		st.pending = st.pending[1:]
		out = append(out, t.deliver(s, msg, now))
	}
	return out
}

// Pending returns the number of deferred messages held for a slot.
func (t *Throttle) Pending(s Slot) int {
	if st, ok := t.slots[s]; ok {
		return len(st.pending)
	}
	return 0
}

// pendingPayload returns the deferred payload for a topic, if any.
func (t *Throttle) pendingPayload(s Slot, topic string) ([]byte, bool) {
	st, ok := t.slots[s]
	if !ok {
		return nil, false
	}
	for _, m := range st.pending {
		if m.Topic == topic {
			return m.Payload, true
		}
	}
	return nil, false
}

func (t *Throttle) deliver(s Slot, msg Message, now time.Time) Delivery {
	err := t.sink.Publish(msg.Topic, msg.Payload, msg.Retained)
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"slot":  s,
			"topic": msg.Topic,
		}).WithError(err).Warn("publish failed")
	}
	return Delivery{Slot: s, Message: msg, Time: now, Err: err}
}

// coalesce replaces a pending message for the same topic in place, or
// appends a new one.
func (st *slotState) coalesce(msg Message) {
	for i := range st.pending {
		if st.pending[i].Topic == msg.Topic {
			st.pending[i] = msg
			return
		}
	}
	st.pending = append(st.pending, msg)
}
