package device

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/logic"
	"github.com/sweeney/basic-switch/internal/router"
	"github.com/sweeney/basic-switch/internal/throttle"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

type published struct {
	Topic    string
	Payload  string
	Retained bool
	At       time.Time
}

// clockSink records publishes with the loop time they were handed over.
type clockSink struct {
	now  *time.Time
	sent []published
	err  error
}

func (s *clockSink) Publish(topic string, payload []byte, retained bool) error {
	s.sent = append(s.sent, published{Topic: topic, Payload: string(payload), Retained: retained, At: *s.now})
	return s.err
}

func (s *clockSink) topics() []string {
	var out []string
	for _, p := range s.sent {
		out = append(out, p.Topic)
	}
	return out
}

type fakeCreds struct {
	accepted []credentials.Record
}

func (f *fakeCreds) Accept(rec credentials.Record) {
	f.accepted = append(f.accepted, rec)
}

type harness struct {
	dev   *Device
	sink  *clockSink
	creds *fakeCreds
	now   time.Time
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{now: t0, creds: &fakeCreds{}}
	h.sink = &clockSink{now: &h.now}

	log, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Device = "dev01"
	cfg.Debounce = 100 * time.Millisecond
	n := 0
	cfg.NewSessionID = func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.dev = New(cfg, throttle.New(logic.PublishTimeOffset, h.sink, log), h.creds)
	return h
}

func (h *harness) step(held bool, now time.Time) []Event {
	h.now = now
	return h.dev.Step(held, now)
}

func (h *harness) handle(msg router.Message, now time.Time) router.Result {
	h.now = now
	return h.dev.Handle(msg, now)
}

// tap performs one clean physical press starting at start with the harness
// debounce of 100ms. The press edge lands at start+100ms and the release is
// accepted at start+250ms.
func (h *harness) tap(start time.Time) []Event {
	var evs []Event
	evs = append(evs, h.step(true, start)...)
	evs = append(evs, h.step(true, start.Add(100*time.Millisecond))...)
	evs = append(evs, h.step(false, start.Add(150*time.Millisecond))...)
	evs = append(evs, h.step(false, start.Add(250*time.Millisecond))...)
	return evs
}

func findEvent(evs []Event, typ EventType) (Event, bool) {
	for _, e := range evs {
		if e.Type == typ {
			return e, true
		}
	}
	return Event{}, false
}

func provisionValues() map[credentials.Field]string {
	return map[credentials.Field]string{
		credentials.FieldLogin:      "user",
		credentials.FieldPassword:   "secret",
		credentials.FieldDevice:     "dev02",
		credentials.FieldCapability: "1",
		credentials.FieldBrokerIP:   "192.168.1.10",
		credentials.FieldBrokerPort: "1883",
	}
}

func TestNewDevice(t *testing.T) {
	h := newHarness(t, nil)
	st := h.dev.State()
	assert.Equal(t, logic.ModeNormal, st.Mode)
	assert.False(t, st.Relay.On)
	assert.Nil(t, st.Session)
	assert.Equal(t, 4, h.dev.Threshold())
	assert.Equal(t, "dev01/simple_light/status", h.dev.Topics().Status)
	assert.Empty(t, h.dev.Drain())
}

func TestFourPressesEnterConfiguring(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		evs := h.tap(at(i * 300))
		_, entered := findEvent(evs, EventModeEntered)
		require.False(t, entered, "entered after press %d", i+1)
		assert.Equal(t, logic.ModeNormal, h.dev.State().Mode)
	}

	evs := h.tap(at(900))
	e, entered := findEvent(evs, EventModeEntered)
	require.True(t, entered)
	assert.Equal(t, logic.ReasonButton, e.Reason)
	assert.Equal(t, "session-1", e.Session.ID)
	assert.Equal(t, at(1000), e.Session.StartTime)
	assert.Equal(t, logic.ConfigSSID, e.Session.SSID)

	st := h.dev.State()
	assert.Equal(t, logic.ModeConfiguring, st.Mode)
	assert.Equal(t, logic.PressIdle, st.Window.State)
	assert.Equal(t, 4, h.dev.Counts().Presses)
}

func TestPressEdgesThreeHundredMillisApart(t *testing.T) {
	h := newHarness(t, nil)

	var pressAt []time.Time
	for i := 0; i < 3; i++ {
		for _, e := range h.tap(at(i * 300)) {
			if e.Type == EventPress {
				pressAt = append(pressAt, e.Timestamp)
			}
		}
	}
	require.Len(t, pressAt, 3)
	assert.Equal(t, 300*time.Millisecond, pressAt[1].Sub(pressAt[0]))
	assert.Equal(t, 300*time.Millisecond, pressAt[2].Sub(pressAt[1]))
}

func TestGapResetsCount(t *testing.T) {
	h := newHarness(t, nil)

	h.tap(at(0))
	h.tap(at(300))
	h.tap(at(600))
	assert.Equal(t, 3, h.dev.State().Window.Count)

	// last press edge at 700ms, next at 700+1600
	evs := h.tap(at(2200))
	e, ok := findEvent(evs, EventPress)
	require.True(t, ok)
	assert.Equal(t, 1, e.Count)

	_, entered := findEvent(evs, EventModeEntered)
	assert.False(t, entered)
	assert.Equal(t, logic.ModeNormal, h.dev.State().Mode)
}

func TestPassiveWindowExpiry(t *testing.T) {
	h := newHarness(t, nil)

	h.tap(at(0))
	require.Equal(t, logic.PressCounting, h.dev.State().Window.State)

	h.step(false, at(100+1499))
	assert.Equal(t, logic.PressCounting, h.dev.State().Window.State)

	h.step(false, at(100+1500))
	assert.Equal(t, logic.PressIdle, h.dev.State().Window.State)
	assert.Zero(t, h.dev.State().Window.Count)
}

func TestDefaultDebounceSequence(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Debounce = logic.ButtonDebounce })

	// raw down for 400ms, up for 400ms, repeated; press edges 1000ms apart
	for i := 0; i < 4; i++ {
		start := i * 1000
		h.step(true, at(start))
		h.step(true, at(start+400))
		h.step(false, at(start+500))
		h.step(false, at(start+900))
	}
	assert.Equal(t, logic.ModeConfiguring, h.dev.State().Mode)
}

func TestGlitchDoesNotToggle(t *testing.T) {
	h := newHarness(t, nil)

	h.step(true, at(0))
	h.step(false, at(50))
	h.step(true, at(60))
	h.step(false, at(150))
	h.step(false, at(400))

	assert.False(t, h.dev.State().Relay.On)
	assert.Zero(t, h.dev.Counts().Presses)
}

func TestPressTogglesRelayAndReportsStatus(t *testing.T) {
	h := newHarness(t, nil)

	evs := h.tap(at(0))
	require.GreaterOrEqual(t, len(evs), 3)

	assert.Equal(t, EventRelay, evs[0].Type)
	assert.True(t, evs[0].Relay)
	assert.Equal(t, EventPublish, evs[1].Type)
	assert.Equal(t, router.SlotStatus, evs[1].Slot)
	assert.Equal(t, throttle.Sent, evs[1].Publish)
	assert.Equal(t, EventPress, evs[2].Type)
	assert.Equal(t, 1, evs[2].Count)

	require.Len(t, h.sink.sent, 1)
	assert.Equal(t, published{Topic: "dev01/simple_light/status", Payload: "ON", Retained: true, At: at(100)}, h.sink.sent[0])
	assert.True(t, h.dev.State().Relay.On)
}

func TestRapidTogglesCoalesceStatus(t *testing.T) {
	h := newHarness(t, nil)

	// status publishes at 100, then the 160ms press is deferred and
	// superseded by the 220ms press before the slot frees
	h.handle(router.Message{Topic: "dev01/simple_light/toggle"}, at(100))
	h.handle(router.Message{Topic: "dev01/simple_light/toggle"}, at(160))
	h.handle(router.Message{Topic: "dev01/simple_light/toggle"}, at(220))

	h.step(false, at(299))
	require.Len(t, h.sink.sent, 1)

	h.step(false, at(300))
	require.Len(t, h.sink.sent, 2)
	assert.Equal(t, "ON", h.sink.sent[0].Payload)
	assert.Equal(t, "ON", h.sink.sent[1].Payload)
	assert.Equal(t, at(300), h.sink.sent[1].At)
	assert.Equal(t, 2, h.dev.Counts().Deferred)
}

func TestInfoPublishesIdentityInOrder(t *testing.T) {
	h := newHarness(t, nil)

	res := h.handle(router.Message{Topic: "dev01/simple_light/cmd", Payload: "INFO"}, at(0))
	assert.Equal(t, router.OutcomeApplied, res.Outcome)

	for ms := 10; ms <= 1000; ms += 10 {
		h.step(false, at(ms))
	}

	require.Len(t, h.sink.sent, 3)
	assert.Equal(t, []string{
		"dev01/simple_light/fwident",
		"dev01/simple_light/fwversion",
		"dev01/simple_light/desc",
	}, h.sink.topics())
	assert.Equal(t, router.FWIdentifier, h.sink.sent[0].Payload)
	assert.Equal(t, router.FWVersion, h.sink.sent[1].Payload)
	assert.Equal(t, router.FWDescription, h.sink.sent[2].Payload)

	for i := 1; i < len(h.sink.sent); i++ {
		gap := h.sink.sent[i].At.Sub(h.sink.sent[i-1].At)
		assert.GreaterOrEqual(t, gap, logic.PublishTimeOffset, "gap before publish %d", i)
	}
	assert.Equal(t, at(0), h.sink.sent[0].At)
	assert.Equal(t, at(200), h.sink.sent[1].At)
	assert.Equal(t, at(400), h.sink.sent[2].At)
}

func TestStatusAndIdentitySlotsAreIndependent(t *testing.T) {
	h := newHarness(t, nil)

	h.handle(router.Message{Topic: "dev01/simple_light/cmd", Payload: "INFO"}, at(0))
	h.handle(router.Message{Topic: "dev01/simple_light/switch", Payload: "ON"}, at(10))

	require.Len(t, h.sink.sent, 2)
	assert.Equal(t, "dev01/simple_light/fwident", h.sink.sent[0].Topic)
	assert.Equal(t, "dev01/simple_light/status", h.sink.sent[1].Topic)
}

func TestOffWhileConfiguringIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.handle(router.Message{Topic: "dev01/simple_light/switch", Payload: "ON"}, at(0))
	require.True(t, h.dev.State().Relay.On)

	require.True(t, h.dev.EnterSetup(at(100), logic.ReasonCommand))

	res := h.handle(router.Message{Topic: "dev01/simple_light/switch", Payload: "OFF"}, at(200))
	assert.Equal(t, router.OutcomeSuspended, res.Outcome)
	assert.True(t, h.dev.State().Relay.On)
	assert.Equal(t, 1, h.dev.Counts().Suspended)
}

func TestPressesWhileConfiguringDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))

	evs := h.tap(at(100))
	e, ok := findEvent(evs, EventPress)
	require.True(t, ok)
	assert.Equal(t, ReasonDiscarded, e.Reason)
	_, relay := findEvent(evs, EventRelay)
	assert.False(t, relay)
	assert.False(t, h.dev.State().Relay.On)
	assert.Zero(t, h.dev.State().Window.Count)
	assert.Empty(t, h.sink.sent)
}

func TestSetupCommandEntersConfiguring(t *testing.T) {
	h := newHarness(t, nil)

	res := h.handle(router.Message{Topic: "dev01/simple_light/cmd", Payload: "SETUP"}, at(0))
	assert.Equal(t, router.OutcomeApplied, res.Outcome)

	evs := h.dev.Drain()
	e, ok := findEvent(evs, EventModeEntered)
	require.True(t, ok)
	assert.Equal(t, logic.ReasonCommand, e.Reason)
	assert.Equal(t, logic.ModeConfiguring, h.dev.State().Mode)
}

func TestEnterSetupWhileConfiguringIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))
	assert.False(t, h.dev.EnterSetup(at(10), logic.ReasonButton))
	assert.Equal(t, at(0), h.dev.State().Session.StartTime)
	assert.Equal(t, 1, h.dev.Counts().Sessions)
}

func TestSessionExpiresAtMaxAPTime(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonUnprovisioned))
	h.dev.Drain()

	assert.Equal(t, logic.MaxAPTime, h.dev.Remaining(at(0)))

	h.step(false, t0.Add(logic.MaxAPTime-time.Millisecond))
	assert.Equal(t, logic.ModeConfiguring, h.dev.State().Mode)

	evs := h.step(false, t0.Add(logic.MaxAPTime))
	e, ok := findEvent(evs, EventModeExited)
	require.True(t, ok)
	assert.Equal(t, logic.ReasonExpired, e.Reason)
	assert.Equal(t, "session-1", e.Session.ID)
	assert.Equal(t, logic.ModeNormal, h.dev.State().Mode)
	assert.Empty(t, h.creds.accepted)
}

func TestExpiryBeforeDispatch(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))

	res := h.handle(router.Message{Topic: "dev01/simple_light/switch", Payload: "ON"}, t0.Add(logic.MaxAPTime))
	assert.Equal(t, router.OutcomeApplied, res.Outcome)
	assert.True(t, h.dev.State().Relay.On)
}

func TestProvisionCommitsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))
	h.dev.Drain()

	rec, err := h.dev.Provision(provisionValues(), at(5000))
	require.NoError(t, err)
	assert.Equal(t, "dev02", rec.Device())

	assert.Equal(t, logic.ModeNormal, h.dev.State().Mode)
	require.Len(t, h.creds.accepted, 1)
	assert.Equal(t, rec, h.creds.accepted[0])
	assert.Equal(t, "dev02/simple_light/cmd", h.dev.Topics().Command)

	evs := h.dev.Drain()
	require.Len(t, evs, 2)
	assert.Equal(t, EventProvisioned, evs[0].Type)
	assert.Empty(t, evs[0].Reason)
	assert.Equal(t, EventModeExited, evs[1].Type)
	assert.Equal(t, logic.ReasonProvisioned, evs[1].Reason)
	assert.Equal(t, 1, h.dev.Counts().Provisions)
}

func TestProvisionUnknownCapabilityFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))

	values := provisionValues()
	values[credentials.FieldCapability] = "7"
	_, err := h.dev.Provision(values, at(10))
	require.NoError(t, err)

	e, ok := findEvent(h.dev.Drain(), EventProvisioned)
	require.True(t, ok)
	assert.Contains(t, e.Reason, "unknown capability")
}

func TestProvisionIncompleteRejected(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))

	values := provisionValues()
	delete(values, credentials.FieldBrokerPort)
	_, err := h.dev.Provision(values, at(10))
	assert.ErrorIs(t, err, credentials.ErrIncompleteRecord)

	assert.Equal(t, logic.ModeConfiguring, h.dev.State().Mode)
	assert.Empty(t, h.creds.accepted)
}

func TestProvisionOversizeFieldRejected(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))

	values := provisionValues()
	values[credentials.FieldDevice] = "device-name-too-long"
	_, err := h.dev.Provision(values, at(10))
	assert.ErrorIs(t, err, credentials.ErrFieldTooLong)
	assert.Equal(t, logic.ModeConfiguring, h.dev.State().Mode)
}

func TestBeginCaptureInNormalFails(t *testing.T) {
	h := newHarness(t, nil)
	b, err := h.dev.BeginCapture(at(0))
	assert.Nil(t, b)
	assert.ErrorIs(t, err, logic.ErrInvalidState)

	_, err = h.dev.Provision(provisionValues(), at(0))
	assert.ErrorIs(t, err, logic.ErrInvalidState)
}

func TestCommitStaleBuilderFails(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))
	stale, err := h.dev.BeginCapture(at(10))
	require.NoError(t, err)
	require.NoError(t, stale.SetAll(provisionValues()))

	// session expires, a new one starts
	h.step(false, t0.Add(logic.MaxAPTime))
	require.True(t, h.dev.EnterSetup(t0.Add(logic.MaxAPTime+time.Second), logic.ReasonCommand))

	_, err = h.dev.Commit(stale, t0.Add(logic.MaxAPTime+2*time.Second))
	assert.True(t, errors.Is(err, logic.ErrInvalidState))
	assert.Equal(t, logic.ModeConfiguring, h.dev.State().Mode)
}

func TestCommitAfterExpiryFails(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))
	b, err := h.dev.BeginCapture(at(10))
	require.NoError(t, err)
	require.NoError(t, b.SetAll(provisionValues()))

	_, err = h.dev.Commit(b, t0.Add(logic.MaxAPTime))
	assert.ErrorIs(t, err, logic.ErrInvalidState)
	assert.Empty(t, h.creds.accepted)
}

func TestPublishFailureSurfacesInEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("not connected")

	h.handle(router.Message{Topic: "dev01/simple_light/switch", Payload: "ON"}, at(0))
	h.handle(router.Message{Topic: "dev01/simple_light/switch", Payload: "OFF"}, at(50))

	evs := h.step(false, at(200))
	e, ok := findEvent(evs, EventPublish)
	require.True(t, ok)
	assert.Equal(t, throttle.Sent, e.Publish)
	assert.EqualError(t, e.Err, "not connected")
	assert.False(t, h.dev.State().Relay.On)
}

func TestReportStatusOutsideDispatch(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.ReportStatus(at(0))
	require.Len(t, h.sink.sent, 1)
	assert.Equal(t, "OFF", h.sink.sent[0].Payload)
	assert.True(t, h.sink.sent[0].Retained)
}

func TestStateReturnsCopy(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.dev.EnterSetup(at(0), logic.ReasonCommand))

	st := h.dev.State()
	st.Session.ID = "changed"
	assert.Equal(t, "session-1", h.dev.State().Session.ID)
}
