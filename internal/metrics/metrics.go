// Package metrics records orchestrator activity in a Prometheus registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCached    = "cached"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics implements the orchestrator observer.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted     prometheus.Counter
	runsFinished    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	chatTurns       *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// New builds a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clipsage",
			Subsystem: "analysis",
			Name:      "runs_started_total",
			Help:      "Analysis runs started, including retries.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipsage",
			Subsystem: "analysis",
			Name:      "runs_finished_total",
			Help:      "Analysis runs finished by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clipsage",
			Subsystem: "analysis",
			Name:      "run_duration_seconds",
			Help:      "Analysis run duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}, []string{"outcome"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clipsage",
			Subsystem: "analysis",
			Name:      "runs_in_flight",
			Help:      "Analysis runs currently processing.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipsage",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Analysis cache lookups by result.",
		}, []string{"result"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipsage",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clipsage",
			Subsystem: "storage",
			Name:      "persist_failures_total",
			Help:      "Project writes that failed to reach the store.",
		}),
	}

	registry.MustRegister(m.runsStarted, m.runsFinished, m.runDuration, m.runsInFlight,
		m.cacheLookups, m.chatTurns, m.persistFailures)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RunStarted() {
	m.runsStarted.Inc()
	m.runsInFlight.Inc()
}

func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	m.runsInFlight.Dec()
	m.runsFinished.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ChatTurn(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.chatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PersistFailed() {
	m.persistFailures.Inc()
}

// WriteTextfile dumps the registry in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
