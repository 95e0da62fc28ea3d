package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatpulse"

// Metrics holds Prometheus metrics for ThreatPulse. All record methods are
// safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Scoring metrics
	ScoresComputed *prometheus.CounterVec
	ScoreValue     *prometheus.GaugeVec

	// Cache metrics
	CacheRequests *prometheus.CounterVec

	// Source metrics
	SourceFetchDuration *prometheus.HistogramVec
	SourceRecords       *prometheus.CounterVec
	SourceFailures      *prometheus.CounterVec
	MalformedSignals    *prometheus.CounterVec

	// Quota metrics
	QuotaRemaining  prometheus.Gauge
	QuotaRejections prometheus.Counter

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every series on a dedicated registry, along with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ScoresComputed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scores_computed_total",
				Help:      "Total threat scores computed by target and window",
			},
			[]string{"target", "window"},
		),
		ScoreValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "score_probability",
				Help:      "Most recently computed probability by target and window",
			},
			[]string{"target", "window"},
		),
		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
		SourceFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Upstream fetch duration by provider",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"provider"},
		),
		SourceRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_records_total",
				Help:      "Raw records fetched by provider",
			},
			[]string{"provider"},
		),
		SourceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_failures_total",
				Help:      "Failed upstream fetches by provider",
			},
			[]string{"provider"},
		),
		MalformedSignals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_signals_total",
				Help:      "Records dropped during normalization by reason",
			},
			[]string{"reason"},
		),
		QuotaRemaining: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_remaining",
				Help:      "Upstream fetch bursts left in the current quota window",
			},
		),
		QuotaRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejections_total",
				Help:      "Requests refused because the quota was exhausted",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the dedicated registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScore records a computed score.
func (m *Metrics) ObserveScore(target string, windowDays, probability int) {
	if m == nil {
		return
	}
	window := strconv.Itoa(windowDays)
	m.ScoresComputed.WithLabelValues(target, window).Inc()
	m.ScoreValue.WithLabelValues(target, window).Set(float64(probability))
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveFetch records one provider fetch.
func (m *Metrics) ObserveFetch(provider string, records int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.SourceFetchDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	if err != nil {
		m.SourceFailures.WithLabelValues(provider).Inc()
		return
	}
	m.SourceRecords.WithLabelValues(provider).Add(float64(records))
}

// ObserveDropped records normalization drops by reason.
func (m *Metrics) ObserveDropped(reasons map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range reasons {
		m.MalformedSignals.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveQuota records the remaining quota, and a rejection when refused.
func (m *Metrics) ObserveQuota(remaining int, rejected bool) {
	if m == nil {
		return
	}
	m.QuotaRemaining.Set(float64(remaining))
	if rejected {
		m.QuotaRejections.Inc()
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
