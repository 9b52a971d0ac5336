// Package metrics exports device events as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/basic-switch/internal/device"
	"github.com/sweeney/basic-switch/internal/logic"
)

const namespace = "basic_switch"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	presses       *prometheus.CounterVec
	relayChanges  *prometheus.CounterVec
	commands      *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	provisions    prometheus.Counter

	configuring   prometheus.Gauge
	relayOn       prometheus.Gauge
	mqttConnected prometheus.Gauge
}

// New creates and registers every collector, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		presses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "button_presses_total",
			Help:      "Debounced button presses by mode.",
		}, []string{"mode"}),
		relayChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_changes_total",
			Help:      "Relay transitions by new state.",
		}, []string{"state"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound command messages by topic suffix and outcome.",
		}, []string{"suffix", "outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Outbound publishes by slot and throttle result.",
		}, []string{"slot", "result"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publishes the transport rejected, by slot.",
		}, []string{"slot"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_sessions_total",
			Help:      "Configuration sessions started and ended, by reason.",
		}, []string{"event", "reason"}),
		provisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisions_total",
			Help:      "Committed credential records.",
		}),
		configuring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configuring",
			Help:      "1 while the device is in configuration mode.",
		}),
		relayOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_on",
			Help:      "1 while the relay is on.",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker link is up.",
		}),
	}

	m.registry.MustRegister(
		m.presses,
		m.relayChanges,
		m.commands,
		m.publishes,
		m.publishErrors,
		m.sessions,
		m.provisions,
		m.configuring,
		m.relayOn,
		m.mqttConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records one device event.
func (m *Metrics) Observe(e device.Event) {
	switch e.Type {
	case device.EventPress:
		mode := logic.ModeNormal
		if e.Reason == device.ReasonDiscarded {
			mode = logic.ModeConfiguring
		}
		m.presses.WithLabelValues(string(mode)).Inc()
	case device.EventRelay:
		m.relayChanges.WithLabelValues(logic.StateString(e.Relay)).Inc()
		m.relayOn.Set(boolValue(e.Relay))
	case device.EventCommand:
		suffix := e.Command.Suffix
		if suffix == "" {
			suffix = "unknown"
		}
		m.commands.WithLabelValues(suffix, string(e.Command.Outcome)).Inc()
	case device.EventPublish:
		m.publishes.WithLabelValues(string(e.Slot), string(e.Publish)).Inc()
		if e.Err != nil {
			m.publishErrors.WithLabelValues(string(e.Slot)).Inc()
		}
	case device.EventModeEntered:
		m.sessions.WithLabelValues("entered", e.Reason).Inc()
		m.configuring.Set(1)
	case device.EventModeExited:
		m.sessions.WithLabelValues("exited", e.Reason).Inc()
		m.configuring.Set(0)
	case device.EventProvisioned:
		m.provisions.Inc()
	}
}

// SetConnected records the broker link state.
func (m *Metrics) SetConnected(connected bool) {
	m.mqttConnected.Set(boolValue(connected))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
