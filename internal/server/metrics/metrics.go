// Package metrics exposes session lifecycle counters in Prometheus format.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockauth"

// Rotation outcomes.
const (
	RotateOK       = "ok"
	RotateInvalid  = "invalid"
	RotateConflict = "conflict"
	RotateError    = "error"
)

type Metrics struct {
	registry       *prometheus.Registry
	pairsIssued    prometheus.Counter
	rotations      *prometheus.CounterVec
	revocations    *prometheus.CounterVec
	scanCandidates prometheus.Histogram
	rateLimited    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pairsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_pairs_issued_total",
			Help:      "Access/refresh pairs issued by login, registration or rotation.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Refresh rotations by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_revocations_total",
			Help:      "Refresh token records revoked, by scope.",
		}, []string{"scope"}),
		scanCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_scan_candidates",
			Help:      "Active records compared during one presentation match.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the attempt limiter, by operation.",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.pairsIssued,
		m.rotations,
		m.revocations,
		m.scanCandidates,
		m.rateLimited,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) PairIssued() {
	if m == nil {
		return
	}
	m.pairsIssued.Inc()
}

func (m *Metrics) Rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

// Revoked adds n revoked records under scope ("user", "record" or "logout").
func (m *Metrics) Revoked(scope string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) ScanSize(candidates int) {
	if m == nil {
		return
	}
	m.scanCandidates.Observe(float64(candidates))
}

func (m *Metrics) RateLimited(op string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(op).Inc()
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
