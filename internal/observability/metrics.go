package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "certsearch"

// Metrics groups the prometheus collectors of the search engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Searches         *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	RowsStreamed     prometheus.Counter
	Introspections   *prometheus.CounterVec
	SchemaCacheHits  *prometheus.CounterVec
	Downloads        *prometheus.CounterVec
	PoolConnections  prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	RateLimited      prometheus.Counter
	PreviewCacheHits *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// reg may be nil, in which case the collectors are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches executed, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"mode"}),
		RowsStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_streamed_total",
			Help:      "Rows handed to export sinks.",
		}),
		Introspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_introspections_total",
			Help:      "Schema introspection queries, by volatility and outcome.",
		}, []string{"volatile", "outcome"}),
		SchemaCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_cache_hits_total",
			Help:      "Schema cache hits, by lookup key.",
		}, []string{"key"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "Remote files materialized locally, by outcome.",
		}, []string{"outcome"}),
		PoolConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_connections",
			Help:      "Open engine connections.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "status"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		PreviewCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_cache_lookups_total",
			Help:      "Preview cache lookups, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Searches, m.SearchDuration, m.RowsStreamed, m.Introspections,
			m.SchemaCacheHits, m.Downloads, m.PoolConnections, m.HTTPRequests,
			m.RateLimited, m.PreviewCacheHits,
		)
	}
	return m
}

// ObserveSearch records one search or stream execution.
func (m *Metrics) ObserveSearch(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Searches.WithLabelValues(mode, outcome).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// AddStreamedRows adds n rows to the streamed counter.
func (m *Metrics) AddStreamedRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsStreamed.Add(float64(n))
}

// ObserveIntrospection records one introspection query.
func (m *Metrics) ObserveIntrospection(volatile bool, err error) {
	if m == nil {
		return
	}
	v := "false"
	if volatile {
		v = "true"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Introspections.WithLabelValues(v, outcome).Inc()
}

// SchemaCacheHit records a cache hit keyed by "locator", "filename" or "alias".
func (m *Metrics) SchemaCacheHit(key string) {
	if m == nil {
		return
	}
	m.SchemaCacheHits.WithLabelValues(key).Inc()
}

// ObserveDownload records one materialization attempt.
func (m *Metrics) ObserveDownload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Downloads.WithLabelValues("error").Inc()
		return
	}
	m.Downloads.WithLabelValues("ok").Inc()
}

// SetPoolConnections sets the open-connection gauge.
func (m *Metrics) SetPoolConnections(n int) {
	if m == nil {
		return
	}
	m.PoolConnections.Set(float64(n))
}

// ObserveHTTP records one HTTP response.
func (m *Metrics) ObserveHTTP(route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
}

// RateLimitedRequest counts a rejected request.
func (m *Metrics) RateLimitedRequest() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// PreviewLookup records a preview cache lookup.
func (m *Metrics) PreviewLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PreviewCacheHits.WithLabelValues("hit").Inc()
		return
	}
	m.PreviewCacheHits.WithLabelValues("miss").Inc()
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
