// Command basic-switch drives a relay from a push button and MQTT commands,
// with a local provisioning portal entered by pressing the button four times.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/sweeney/basic-switch/internal/config"
	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/device"
	"github.com/sweeney/basic-switch/internal/gpio"
	"github.com/sweeney/basic-switch/internal/logic"
	"github.com/sweeney/basic-switch/internal/metrics"
	"github.com/sweeney/basic-switch/internal/mqtt"
	"github.com/sweeney/basic-switch/internal/provision"
	"github.com/sweeney/basic-switch/internal/router"
	"github.com/sweeney/basic-switch/internal/status"
	"github.com/sweeney/basic-switch/internal/throttle"
	"github.com/sweeney/basic-switch/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		config.Usage(os.Stderr)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "basic-switch: %v\n", err)
		os.Exit(2)
	}

	log := cfg.NewLogger(os.Stderr)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	button, err := gpio.NewRealButton(cfg.GPIO.Chip, cfg.GPIO.ButtonPin, cfg.GPIO.EdgeEvents)
	if err != nil {
		return fmt.Errorf("init button: %w", err)
	}
	defer button.Close()

	if cfg.PrintState {
		held, err := button.Held()
		if err != nil {
			return fmt.Errorf("read button: %w", err)
		}
		fmt.Printf("button: %s\n", heldString(held))
		return nil
	}

	relay, err := gpio.NewRealOutput(cfg.GPIO.Chip, cfg.GPIO.RelayPin, false)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()

	var led gpio.Output = gpio.NopOutput{}
	if cfg.GPIO.LEDPin >= 0 {
		out, err := gpio.NewRealOutput(cfg.GPIO.Chip, cfg.GPIO.LEDPin, false)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		led = out
	}
	defer led.Close()

	opts := mqtt.DefaultOptions()
	opts.BufferSize = cfg.MQTT.BufferSize
	client := mqtt.NewRealClient(opts, log.WithField("component", "mqtt"))
	defer client.Close()

	met := metrics.New()
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:           cfg.Timing.Poll.Milliseconds(),
		DebounceMs:       cfg.Timing.Debounce.Milliseconds(),
		PressTimeoutMs:   cfg.Timing.PressTimeout.Milliseconds(),
		PublishSpacingMs: cfg.Timing.PublishSpacing.Milliseconds(),
		MaxAPSeconds:     int64(cfg.Timing.MaxAPTime.Seconds()),
		PressThreshold:   cfg.Device.PressThreshold,
		Capability:       cfg.Device.Capability,
		StatusAddr:       cfg.HTTP.StatusAddr,
		PortalAddr:       cfg.HTTP.PortalAddr,
		SSID:             cfg.AP.SSID,
	})

	store := credentials.NewStore(afero.NewOsFs(), cfg.Credentials.File)
	rec, recErr := bootRecord(store, cfg, log)

	sink := &persistingSink{store: store, client: client, tracker: tracker, log: log.WithField("component", "credentials")}
	th := throttle.New(cfg.Timing.PublishSpacing, client, log.WithField("component", "throttle"))
	devCfg := device.Config{
		Device:         cfg.Device.Name,
		Capability:     cfg.Device.Capability,
		Debounce:       cfg.Timing.Debounce,
		PressTimeout:   cfg.Timing.PressTimeout,
		PressThreshold: cfg.Device.PressThreshold,
		MaxAPTime:      cfg.Timing.MaxAPTime,
		SSID:           cfg.AP.SSID,
	}
	if recErr == nil {
		devCfg.Device = rec.Device()
		devCfg.Capability = rec.Capability()
	}
	dev := device.New(devCfg, th, sink)

	accessLog := log.WithField("component", "portal").WriterLevel(logrus.DebugLevel)
	defer accessLog.Close()
	portal := provision.NewPortal(provision.Config{
		Addr:         cfg.HTTP.PortalAddr,
		SSID:         cfg.AP.SSID,
		ReplyTimeout: 5 * time.Second,
		AccessLog:    accessLog,
	}, log.WithField("component", "portal"))
	defer portal.Stop(context.Background())

	var ap provision.AccessPoint = provision.LogAccessPoint{Log: log.WithField("component", "ap")}
	var apResults <-chan provision.CommandResult
	if cfg.AP.StartCommand != "" || cfg.AP.StopCommand != "" {
		cmdAP := provision.NewCommandAccessPoint(cfg.AP.StartCommand, cfg.AP.StopCommand, log.WithField("component", "ap"))
		defer cmdAP.Close()
		ap, apResults = cmdAP, cmdAP.Results()
	}

	if cfg.HTTP.StatusAddr != "" {
		srv := web.New(cfg.HTTP.StatusAddr, tracker, met.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("http server")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTP.StatusAddr).Info("http status server listening")
	}

	l := &loop{
		dev:     dev,
		button:  button,
		relay:   relay,
		led:     led,
		client:  client,
		portal:  portal,
		ap:      ap,
		tracker: tracker,
		metrics: met,
		log:     log.WithField("component", "loop"),
		now:     time.Now,
	}

	if recErr != nil {
		l.log.WithError(recErr).Warn("no usable credentials, entering configuration mode")
	}
	l.boot(rec, recErr == nil)

	log.WithFields(logrus.Fields{
		"device":   dev.Topics().Device,
		"poll":     cfg.Timing.Poll,
		"debounce": cfg.Timing.Debounce,
	}).Info("started")

	ticker := time.NewTicker(cfg.Timing.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	in := inputs{
		tick:        ticker.C,
		sig:         sigCh,
		inbox:       client.Inbox(),
		connected:   client.Connected(),
		submissions: portal.Submissions(),
		apResults:   apResults,
	}
	if cfg.GPIO.EdgeEvents {
		in.edges = button.Changed()
	}
	return l.run(in)
}

// bootRecord loads the persisted record, falling back to the configured
// fields when no file exists.
func bootRecord(store *credentials.Store, cfg *config.Config, log logrus.FieldLogger) (credentials.Record, error) {
	rec, err := store.Load()
	if err == nil {
		log.WithField("file", store.Path()).Info("loaded credentials")
		return rec, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("ignoring credential file")
	}
	return cfg.Record()
}

// persistingSink saves a committed record, then hands it to the MQTT client.
type persistingSink struct {
	store   *credentials.Store
	client  mqtt.Client
	tracker *status.Tracker
	log     logrus.FieldLogger
}

func (s *persistingSink) Accept(rec credentials.Record) {
	if s.store != nil {
		if err := s.store.Save(rec); err != nil {
			s.log.WithError(err).Error("persist credentials")
		} else {
			s.log.WithField("file", s.store.Path()).Info("credentials saved")
		}
	}
	s.client.Accept(rec)
	if s.tracker != nil {
		s.tracker.SetIdentity(rec.Device(), rec.BrokerURL())
	}
}

// bufferReporter is implemented by clients that hold publishes while offline.
type bufferReporter interface {
	Buffered() int
	Dropped() int
}

type portalServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// loop owns every collaborator the cooperative control loop drives.
type loop struct {
	dev     *device.Device
	button  gpio.Button
	relay   gpio.Output
	led     gpio.Output
	client  mqtt.Client
	portal  portalServer
	ap      provision.AccessPoint
	tracker *status.Tracker
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time

	held bool
	// provisioned is set once a complete record has been handed to MQTT
	provisioned bool
}

// inputs are the event sources the loop selects on. A nil channel is never
// ready.
type inputs struct {
	tick        <-chan time.Time
	sig         <-chan os.Signal
	inbox       <-chan router.Message
	connected   <-chan struct{}
	edges       <-chan struct{}
	submissions <-chan provision.Submission
	apResults   <-chan provision.CommandResult
}

// boot connects with a complete record or enters configuration mode.
func (l *loop) boot(rec credentials.Record, ok bool) {
	now := l.now()
	if ok {
		l.provisioned = true
		l.client.Accept(rec)
		if l.tracker != nil {
			l.tracker.SetIdentity(rec.Device(), rec.BrokerURL())
		}
	} else {
		l.dev.EnterSetup(now, logic.ReasonUnprovisioned)
	}
	l.apply(l.dev.Drain(), now)
}

func (l *loop) run(in inputs) error {
	for {
		select {
		case s := <-in.sig:
			l.log.WithField("signal", s.String()).Info("shutting down")
			l.shutdown()
			return nil

		case <-in.tick:
			l.step()

		case <-in.edges:
			l.step()

		case msg := <-in.inbox:
			now := l.now()
			res := l.dev.Handle(msg, now)
			l.log.WithFields(logrus.Fields{
				"topic":   msg.Topic,
				"outcome": res.Outcome,
			}).Debug("command")
			l.apply(l.dev.Drain(), now)

		case <-in.connected:
			now := l.now()
			l.log.Info("mqtt connected, reporting state")
			l.dev.ReportStatus(now)
			l.dev.ReportIdentity(now)
			l.apply(l.dev.Drain(), now)

		case sub := <-in.submissions:
			now := l.now()
			_, err := l.dev.Provision(sub.Values, now)
			if err != nil {
				l.log.WithError(err).Warn("provisioning rejected")
			}
			sub.Reply <- err
			l.apply(l.dev.Drain(), now)

		case res := <-in.apResults:
			entry := l.log.WithFields(logrus.Fields{"op": res.Op, "ssid": res.SSID})
			if res.Err != nil {
				entry.WithError(res.Err).WithFields(logrus.Fields{
					"command": res.Command,
					"output":  res.Output,
				}).Error("access point command failed")
				continue
			}
			entry.Info("access point command done")
		}
	}
}

func (l *loop) step() {
	now := l.now()
	held, err := l.button.Held()
	if err != nil {
		// Repeat the last good sample so deadlines and throttled publishes
		// keep moving
		l.log.WithError(err).Warn("button read")
		held = l.held
	}
	l.held = held
	l.apply(l.dev.Step(held, now), now)
}

// apply acts on events in order: drives outputs, the access point and the
// portal, then records them. A device that has never been provisioned
// reopens configuration mode when a session expires.
func (l *loop) apply(events []device.Event, now time.Time) {
	reopen := false
	for _, e := range events {
		switch e.Type {
		case device.EventRelay:
			if err := l.relay.Set(e.Relay); err != nil {
				l.log.WithError(err).Error("set relay")
			}
			l.log.WithField("relay", logic.StateString(e.Relay)).Info("relay changed")

		case device.EventPress:
			l.log.WithFields(logrus.Fields{"count": e.Count, "reason": e.Reason}).Debug("press")

		case device.EventModeEntered:
			l.log.WithFields(logrus.Fields{
				"reason":  e.Reason,
				"session": e.Session.ID,
				"ssid":    e.Session.SSID,
			}).Info("configuration mode entered")
			if err := l.led.Set(true); err != nil {
				l.log.WithError(err).Warn("set led")
			}
			if err := l.ap.Start(e.Session.SSID); err != nil {
				l.log.WithError(err).Error("start access point")
			}
			if err := l.portal.Start(); err != nil {
				l.log.WithError(err).Error("start portal")
			}

		case device.EventModeExited:
			l.log.WithFields(logrus.Fields{
				"reason":  e.Reason,
				"session": e.Session.ID,
			}).Info("configuration mode exited")
			l.stopSetup()
			if e.Reason == logic.ReasonExpired && !l.provisioned {
				reopen = true
			}

		case device.EventProvisioned:
			entry := l.log.WithField("device", e.Device)
			if e.Reason != "" {
				entry = entry.WithField("note", e.Reason)
			}
			entry.Info("provisioned")
			l.provisioned = true
		}

		if l.metrics != nil {
			l.metrics.Observe(e)
		}
	}

	if reopen && l.dev.EnterSetup(now, logic.ReasonUnprovisioned) {
		l.apply(l.dev.Drain(), now)
		return
	}

	if l.tracker != nil {
		l.tracker.Update(l.dev.State(), l.dev.Remaining(now), l.dev.Counts())
		if cs, ok := l.client.(mqtt.ConnectionStatus); ok {
			connected := cs.IsConnected()
			buffered, dropped := 0, 0
			if b, ok := l.client.(bufferReporter); ok {
				buffered, dropped = b.Buffered(), b.Dropped()
			}
			l.tracker.SetMQTT(connected, buffered, dropped)
			if l.metrics != nil {
				l.metrics.SetConnected(connected)
			}
		}
	}
}

func (l *loop) stopSetup() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.portal.Stop(ctx); err != nil {
		l.log.WithError(err).Warn("stop portal")
	}
	if err := l.ap.Stop(); err != nil {
		l.log.WithError(err).Warn("stop access point")
	}
	if err := l.led.Set(false); err != nil {
		l.log.WithError(err).Warn("set led")
	}
}

func (l *loop) shutdown() {
	if l.dev.State().Mode == logic.ModeConfiguring {
		l.stopSetup()
	}
	if err := l.relay.Set(false); err != nil {
		l.log.WithError(err).Warn("release relay")
	}
}

func heldString(held bool) string {
	if held {
		return "HELD"
	}
	return "RELEASED"
}
