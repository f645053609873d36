// Package metrics exposes tuning telemetry as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

const namespace = "tundr_anneal"

// Evaluation outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeUnevaluable = "unevaluable"
	OutcomeTimeout     = "timeout"
)

// Metrics holds the collectors of one process. Each instance owns a private
// registry so tests and embedded users do not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	evaluations  *prometheus.CounterVec
	evalDuration *prometheus.HistogramVec
	accepted     *prometheus.CounterVec
	migrations   *prometheus.CounterVec
	temperature  *prometheus.GaugeVec
	bestEnergy   *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
}

// New creates and registers the collectors. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Energy evaluations by solver and outcome.",
		}, []string{"solver", "outcome"}),
		evalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of a single energy evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"solver"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepted_moves_total",
			Help:      "Neighbours accepted by the Metropolis rule.",
		}, []string{"solver"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Candidates copied between chains.",
		}, []string{"solver"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature",
			Help:      "Temperature of the most recent step.",
		}, []string{"solver"}),
		bestEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_energy",
			Help:      "Lowest energy found by the running search.",
		}, []string{"solver"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished tuning runs by solver and status.",
		}, []string{"solver", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a tuning run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"solver"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Tuning runs currently in progress.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evaluations,
		m.evalDuration,
		m.accepted,
		m.migrations,
		m.temperature,
		m.bestEnergy,
		m.runs,
		m.runDuration,
		m.activeRuns,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEvaluation implements annealing.Recorder.
func (m *Metrics) ObserveEvaluation(solver string, d time.Duration, err error) {
	m.evaluations.WithLabelValues(solver, outcome(err)).Inc()
	m.evalDuration.WithLabelValues(solver).Observe(d.Seconds())
}

// IncAccepted implements annealing.Recorder.
func (m *Metrics) IncAccepted(solver string) {
	m.accepted.WithLabelValues(solver).Inc()
}

// IncMigrations implements annealing.Recorder.
func (m *Metrics) IncMigrations(solver string) {
	m.migrations.WithLabelValues(solver).Inc()
}

// SetTemperature implements annealing.Recorder.
func (m *Metrics) SetTemperature(solver string, t float64) {
	m.temperature.WithLabelValues(solver).Set(t)
}

// SetBestEnergy implements annealing.Recorder.
func (m *Metrics) SetBestEnergy(solver string, e float64) {
	m.bestEnergy.WithLabelValues(solver).Set(e)
}

// RunStarted marks a run as in progress.
func (m *Metrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished records the end of a run. status is one of "completed",
// "interrupted" or "failed".
func (m *Metrics) RunFinished(solver, status string, d time.Duration) {
	m.activeRuns.Dec()
	m.runs.WithLabelValues(solver, status).Inc()
	m.runDuration.WithLabelValues(solver).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, optimization.ErrEvaluationTimeout):
		return OutcomeTimeout
	default:
		return OutcomeUnevaluable
	}
}
