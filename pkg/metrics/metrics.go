// Package metrics exposes the engine counters as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kacct"

// Pool labels.
const (
	PoolAcct   = "acct"
	PoolSubsys = "subsys"
)

// Metrics groups the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	PoolExhausted  *prometheus.CounterVec
	TokenExhausted prometheus.Counter
	StackMismatch  prometheus.Counter
	StackOverflow  prometheus.Counter
	Reentrant      prometheus.Counter
	RegistryFull   prometheus.Counter
	HypLost        prometheus.Counter
	Measurements   prometheus.Counter
	Contexts       prometheus.Gauge
	TokensMinted   prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PoolExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Allocations that failed because a record pool was full.",
		}, []string{"pool"}),
		TokenExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exhausted_total",
			Help:      "Token requests refused because the per-process cap was reached.",
		}),
		StackMismatch: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_mismatch_total",
			Help:      "Subsystem exits that had to force-pop frames above them.",
		}),
		StackOverflow: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_overflow_total",
			Help:      "Subsystem entries dropped because the call stack was full.",
		}),
		Reentrant: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reentrant_probes_total",
			Help:      "Probe invocations skipped because another probe was running.",
		}),
		RegistryFull: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_insert_failures_total",
			Help:      "Processes left unaccounted on a cpu because its table window was full.",
		}),
		HypLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hypervisor_events_lost_total",
			Help:      "Hypervisor scheduling events overwritten before being drained.",
		}),
		Measurements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_started_total",
			Help:      "Measurements started.",
		}),
		Contexts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contexts",
			Help:      "Processes currently mapped.",
		}),
		TokensMinted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_minted_total",
			Help:      "User tokens minted.",
		}),
	}
}

func (m *Metrics) IncPoolExhausted(pool string) {
	if m == nil {
		return
	}
	m.PoolExhausted.WithLabelValues(pool).Inc()
}

func (m *Metrics) IncTokenExhausted() {
	if m == nil {
		return
	}
	m.TokenExhausted.Inc()
}

func (m *Metrics) IncStackMismatch() {
	if m == nil {
		return
	}
	m.StackMismatch.Inc()
}

func (m *Metrics) IncStackOverflow() {
	if m == nil {
		return
	}
	m.StackOverflow.Inc()
}

func (m *Metrics) IncReentrant() {
	if m == nil {
		return
	}
	m.Reentrant.Inc()
}

func (m *Metrics) IncRegistryFull() {
	if m == nil {
		return
	}
	m.RegistryFull.Inc()
}

func (m *Metrics) AddHypLost(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.HypLost.Add(float64(n))
}

func (m *Metrics) IncMeasurements() {
	if m == nil {
		return
	}
	m.Measurements.Inc()
}

func (m *Metrics) AddTokensMinted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.TokensMinted.Add(float64(n))
}

func (m *Metrics) SetContexts(n int) {
	if m == nil {
		return
	}
	m.Contexts.Set(float64(n))
}

// Handler serves the collectors of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
