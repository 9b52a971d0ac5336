package mqtt

import "github.com/sirupsen/logrus"

// bufferedMsg stores an outbound publish made while disconnected.
type bufferedMsg struct {
	topic    string
	payload  []byte
	retained bool
}

// outbox holds the latest undelivered publish per topic while the broker link
// is down. Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg // at most one per topic, first-buffered order
	capacity int
	overflow bool // true if a topic was evicted since the last drain
	dropped  int  // publishes lost to eviction or a device rename
	log      logrus.FieldLogger
}

func newOutbox(capacity int, log logrus.FieldLogger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		log:      log,
	}
}

// push replaces the held publish for the same topic, or appends a new one,
// evicting the oldest topic when full.
func (o *outbox) push(msg bufferedMsg) {
	for i := range o.msgs {
		if o.msgs[i].topic == msg.topic {
			o.msgs[i] = msg
			return
		}
	}
	if len(o.msgs) == o.capacity {
		if !o.overflow {
			o.log.WithField("capacity", o.capacity).Warn("publish buffer full, dropping oldest topic")
			o.overflow = true
		}
		o.dropped++
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
	}
	o.msgs = append(o.msgs, msg)
}

// retain drops every held publish whose topic fails keep and returns how
// many were dropped.
func (o *outbox) retain(keep func(topic string) bool) int {
	kept := o.msgs[:0]
	for _, m := range o.msgs {
		if keep(m.topic) {
			kept = append(kept, m)
		}
	}
	n := len(o.msgs) - len(kept)
	o.msgs = kept
	o.dropped += n
	return n
}

func (o *outbox) drainAll() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	result := make([]bufferedMsg, len(o.msgs))
	copy(result, o.msgs)
	o.msgs = o.msgs[:0]
	o.overflow = false
	return result
}

func (o *outbox) len() int {
	return len(o.msgs)
}
