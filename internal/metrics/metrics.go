// Package metrics exposes Prometheus metrics for the embedding cache and matcher.
// A nil *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh results.
const (
	RefreshOK     = "ok"
	RefreshFailed = "failed"
)

// Manager owns all face-auth collectors.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	refreshDuration *prometheus.HistogramVec
	refreshTotal    *prometheus.CounterVec
	snapshotEntries prometheus.Gauge
	snapshotSource  prometheus.Gauge
	snapshotAge     prometheus.Gauge
	skippedRows     *prometheus.CounterVec
	verdicts        *prometheus.CounterVec
	matchDuration   prometheus.Histogram
	extractFailures *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets (seconds) for the duration histograms.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry registers collectors on the given registry instead of a fresh one.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates the collectors on a custom registry, so tests and
// multiple instances never collide on the global one.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "face_auth",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	auto := promauto.With(m.registry)

	m.refreshDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of embedding cache refreshes",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"result"})

	m.refreshTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "refreshes_total",
		Help:      "Embedding cache refreshes by result",
	}, []string{"result"})

	m.snapshotEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "snapshot_entries",
		Help:      "Identities in the current snapshot",
	})

	m.snapshotSource = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "snapshot_source_rows",
		Help:      "Repository rows considered by the last successful refresh",
	})

	m.snapshotAge = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "snapshot_generated_timestamp_seconds",
		Help:      "Unix time the current snapshot was generated",
	})

	m.skippedRows = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "skipped_rows_total",
		Help:      "Repository rows excluded from a snapshot, by reason",
	}, []string{"reason"})

	m.verdicts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "match",
		Name:      "verdicts_total",
		Help:      "Match verdicts by outcome and rejection reason",
	}, []string{"outcome", "reason"})

	m.matchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "match",
		Name:      "duration_seconds",
		Help:      "Time spent scoring a probe against a snapshot",
		Buckets:   m.buckets,
	})

	m.extractFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "extract",
		Name:      "probe_failures_total",
		Help:      "Probe images that produced no vector, by kind",
	}, []string{"kind"})

	m.invalidations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Cache invalidations by origin",
	}, []string{"origin"})

	return m
}

// Registry returns the registry the collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRefresh records one refresh attempt.
func (m *Manager) ObserveRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
	m.refreshDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SetSnapshot records the shape of a newly published snapshot.
func (m *Manager) SetSnapshot(entries, sourceRows int, generatedAt time.Time) {
	if m == nil {
		return
	}
	m.snapshotEntries.Set(float64(entries))
	m.snapshotSource.Set(float64(sourceRows))
	m.snapshotAge.Set(float64(generatedAt.Unix()))
}

// AddSkipped counts rows excluded from a snapshot.
func (m *Manager) AddSkipped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedRows.WithLabelValues(reason).Add(float64(n))
}

// ObserveVerdict counts a match outcome; reason is empty for acceptances.
func (m *Manager) ObserveVerdict(outcome, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(outcome, reason).Inc()
	m.matchDuration.Observe(d.Seconds())
}

// ExtractFailure counts a probe image that produced no vector.
func (m *Manager) ExtractFailure(kind string) {
	if m == nil {
		return
	}
	m.extractFailures.WithLabelValues(kind).Inc()
}

// Invalidated counts a cache invalidation ("local" or "remote").
func (m *Manager) Invalidated(origin string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(origin).Inc()
}
