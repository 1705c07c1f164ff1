// Package metrics holds the Prometheus collectors shared by the extractor,
// the scheduler and the notifier.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emobot"

// Extraction outcomes.
const (
	OutcomeFound  = "found"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

// Per-identity results of an enrichment cycle.
const (
	ResultUpdated          = "updated"
	ResultUnchanged        = "unchanged"
	ResultScanningDisabled = "scanning_disabled"
	ResultInsufficient     = "insufficient"
	ResultFailed           = "failed"
)

// Notification delivery results.
const (
	DeliverySent        = "sent"
	DeliveryFailed      = "failed"
	DeliveryUnreachable = "unreachable"
)

// Metrics bundles every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Extractions        *prometheus.CounterVec
	Cycles             *prometheus.CounterVec
	Identities         *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	BufferedIdentities prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Extractions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Interest extraction calls by outcome.",
			},
			[]string{"outcome"},
		),
		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "cycles_total",
				Help:      "Enrichment cycles by trigger.",
			},
			[]string{"trigger"},
		),
		Identities: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "identities_total",
				Help:      "Identities processed during enrichment cycles by result.",
			},
			[]string{"result"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Match notification deliveries by result.",
			},
			[]string{"result"},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a full enrichment cycle.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		BufferedIdentities: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "buffer",
				Name:      "identities",
				Help:      "Identities with buffered messages awaiting the next cycle.",
			},
		),
	}
}

func (m *Metrics) Extraction(outcome string) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Cycle(trigger string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(trigger).Inc()
}

func (m *Metrics) Identity(result string) {
	if m == nil {
		return
	}
	m.Identities.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) SetBuffered(n int) {
	if m == nil {
		return
	}
	m.BufferedIdentities.Set(float64(n))
}
