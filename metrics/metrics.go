// Package metrics exposes gateway counters on the management listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. One instance per
// process, passed explicitly to the components that record into it.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	FramesTotal       *prometheus.CounterVec
	VerifyFailures    prometheus.Counter
	SubmissionsStored prometheus.Counter
	BatchRuns         prometheus.Counter
	BatchRecords      prometheus.Counter
	ChainCalls        *prometheus.CounterVec
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "oracle",
		Name:      "sessions_active",
		Help:      "Currently connected device sessions.",
	})
	m.FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "frames_total",
		Help:      "Inbound frames by type.",
	}, []string{"type"})
	m.VerifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "verify_failures_total",
		Help:      "Step data frames rejected by signature verification.",
	})
	m.SubmissionsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "submissions_stored_total",
		Help:      "Verified submissions staged for chain submission.",
	})
	m.BatchRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "batch_runs_total",
		Help:      "Batch submitter executions (scheduled and manual).",
	})
	m.BatchRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "batch_records_submitted_total",
		Help:      "Records marked submitted by the batch submitter.",
	})
	m.ChainCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oracle",
		Name:      "chain_calls_total",
		Help:      "Chain gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})

	m.registry.MustRegister(
		m.SessionsActive,
		m.FramesTotal,
		m.VerifyFailures,
		m.SubmissionsStored,
		m.BatchRuns,
		m.BatchRecords,
		m.ChainCalls,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
