package infra

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

var subscriberPhases = []domain.SubscriberPhase{
	domain.PhaseUnregistered,
	domain.PhaseRegistering,
	domain.PhaseActive,
	domain.PhaseBackoffWait,
}

// Metrics collects pass and subscriber metrics and writes them to a
// node_exporter textfile. It observes both the reconciler and the
// subscriber.
type Metrics struct {
	registry *prometheus.Registry
	textfile string
	mu       sync.Mutex // serializes Flush

	passes          *prometheus.CounterVec
	passAborts      *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	lastPass        prometheus.Gauge
	lastDuration    prometheus.Gauge
	registrations   *prometheus.CounterVec
	subscriberState *prometheus.GaugeVec
}

// NewMetrics creates the collectors. textfile may be empty, in which case
// Flush does nothing.
func NewMetrics(textfile string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdaguard_passes_total",
			Help: "Reconciliation passes by trigger",
		}, []string{"trigger"}),
		passAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdaguard_pass_aborts_total",
			Help: "Passes aborted because devices could not be enumerated",
		}, []string{"trigger"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdaguard_device_outcomes_total",
			Help: "Per-device pass outcomes by kind",
		}, []string{"kind"}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hdaguard_last_pass_timestamp_seconds",
			Help: "Start of the last pass (epoch seconds)",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hdaguard_last_pass_duration_seconds",
			Help: "Duration of the last pass",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdaguard_registration_attempts_total",
			Help: "Notification registration attempts by result",
		}, []string{"result"}),
		subscriberState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hdaguard_subscriber_state",
			Help: "1 for the notification subscriber's current phase",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.passes, m.passAborts, m.outcomes, m.lastPass, m.lastDuration,
		m.registrations, m.subscriberState,
	)
	m.setPhase(domain.PhaseUnregistered)
	return m
}

// ObservePass implements domain.PassObserver.
func (m *Metrics) ObservePass(summary *domain.PassSummary) {
	trigger := string(summary.Trigger)
	m.passes.WithLabelValues(trigger).Inc()
	if summary.Aborted() {
		m.passAborts.WithLabelValues(trigger).Inc()
	}
	for _, o := range summary.Outcomes {
		m.outcomes.WithLabelValues(string(o.Kind)).Inc()
	}
	m.lastPass.Set(float64(summary.StartedAt.Unix()))
	m.lastDuration.Set(summary.Duration.Seconds())
}

// ObserveTransition implements domain.SubscriberObserver.
func (m *Metrics) ObserveTransition(from, to domain.SubscriberState) {
	// Leaving Registering for Unregistered is a shutdown, not an outcome.
	if from.Phase == domain.PhaseRegistering {
		switch to.Phase {
		case domain.PhaseActive:
			m.registrations.WithLabelValues("success").Inc()
		case domain.PhaseRegistering, domain.PhaseBackoffWait:
			m.registrations.WithLabelValues("failure").Inc()
		}
	}
	m.setPhase(to.Phase)
}

func (m *Metrics) setPhase(current domain.SubscriberPhase) {
	for _, p := range subscriberPhases {
		v := 0.0
		if p == current {
			v = 1
		}
		m.subscriberState.WithLabelValues(string(p)).Set(v)
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Flush writes the textfile atomically.
func (m *Metrics) Flush() error {
	if m.textfile == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return prometheus.WriteToTextfile(m.textfile, m.registry)
}

// Ensure Metrics observes passes and transitions.
var _ domain.PassObserver = (*Metrics)(nil)
var _ domain.SubscriberObserver = (*Metrics)(nil)
