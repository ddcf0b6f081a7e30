// Package metrics records instruction and token movement counters for
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess  = ports.OutcomeSuccess
	OutcomeRejected = ports.OutcomeRejected
	OutcomeError    = ports.OutcomeError
	OutcomeReplayed = ports.OutcomeReplayed
)

// Prometheus implements ports.Metrics on a private registry.
type Prometheus struct {
	registry     *prometheus.Registry
	instructions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	transfers    *prometheus.CounterVec
	volume       *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go runtime
// and process collectors.
func New() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "instructions_total",
			Help:      "Processed instructions segmented by instruction and outcome.",
		}, []string{"instruction", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "instruction_duration_seconds",
			Help:      "Latency distribution of instruction processing, including the database transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"instruction"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "transfers_total",
			Help:      "Committed token transfers segmented by kind.",
		}, []string{"kind"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "transferred_tokens_total",
			Help:      "Token base units moved by committed transfers, segmented by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.instructions,
		m.latency,
		m.transfers,
		m.volume,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveInstruction records one processed instruction.
func (m *Prometheus) ObserveInstruction(instruction, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if instruction == "" {
		instruction = "unknown"
	}
	m.instructions.WithLabelValues(instruction, outcome).Inc()
	m.latency.WithLabelValues(instruction).Observe(elapsed.Seconds())
}

// ObserveTransfer records one committed transfer.
func (m *Prometheus) ObserveTransfer(kind domain.TransferKind, amount uint64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(string(kind)).Inc()
	m.volume.WithLabelValues(string(kind)).Add(float64(amount))
}

// Registry exposes the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
