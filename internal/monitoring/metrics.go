package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequestsTotal counts Nearby Search requests by place type and outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placescout_upstream_requests_total",
			Help: "Total number of Nearby Search requests by place type and status",
		},
		[]string{"type", "status"},
	)

	// UpstreamRequestDuration tracks Nearby Search latency.
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placescout_upstream_request_duration_seconds",
			Help:    "Duration of Nearby Search requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	// DiscoveryPassesTotal counts uncached discovery passes by profile and outcome.
	DiscoveryPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placescout_discovery_passes_total",
			Help: "Total number of discovery passes by profile and outcome",
		},
		[]string{"profile", "outcome"},
	)

	// DiscoveryPassDuration tracks end-to-end discovery pass latency.
	DiscoveryPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placescout_discovery_pass_duration_seconds",
			Help:    "Duration of discovery passes in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"profile"},
	)

	// CacheLookupsTotal counts candidate cache lookups by result (hit, miss).
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placescout_cache_lookups_total",
			Help: "Total number of candidate cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictionsTotal counts candidate cache evictions by reason (capacity, expired).
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placescout_cache_evictions_total",
			Help: "Total number of candidate cache evictions by reason",
		},
		[]string{"reason"},
	)

	// CacheLoadsTotal counts cache loads by outcome.
	CacheLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placescout_cache_loads_total",
			Help: "Total number of candidate cache loads by outcome",
		},
		[]string{"outcome"},
	)

	// CacheEntries tracks the current number of cached candidate lists.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "placescout_cache_entries",
			Help: "Current number of entries in the candidate cache",
		},
	)

	// CircuitState reports the upstream breaker state (0 closed, 1 open, 2 half-open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "placescout_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"name"},
	)

	// HTTPRequestsTotal counts API requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placescout_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// HTTPRequestDuration tracks API latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placescout_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordUpstreamRequest records one Nearby Search request.
func RecordUpstreamRequest(placeType, status string, d time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(placeType, status).Inc()
	UpstreamRequestDuration.WithLabelValues(placeType).Observe(d.Seconds())
}

// RecordDiscoveryPass records one uncached discovery pass.
func RecordDiscoveryPass(profile, outcome string, d time.Duration) {
	DiscoveryPassesTotal.WithLabelValues(profile, outcome).Inc()
	DiscoveryPassDuration.WithLabelValues(profile).Observe(d.Seconds())
}

// RecordHTTPRequest records one API request.
func RecordHTTPRequest(route, code string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// CacheObserver feeds placecache events into the cache metrics.
type CacheObserver struct{}

// CacheHit implements placecache.Observer.
func (CacheObserver) CacheHit() { CacheLookupsTotal.WithLabelValues("hit").Inc() }

// CacheMiss implements placecache.Observer.
func (CacheObserver) CacheMiss() { CacheLookupsTotal.WithLabelValues("miss").Inc() }

// CacheEvict implements placecache.Observer.
func (CacheObserver) CacheEvict(reason string) { CacheEvictionsTotal.WithLabelValues(reason).Inc() }

// CacheLoad implements placecache.Observer.
func (CacheObserver) CacheLoad(_ time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CacheLoadsTotal.WithLabelValues(outcome).Inc()
}
