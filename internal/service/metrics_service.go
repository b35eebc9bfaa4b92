package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	claimEvents        *prometheus.CounterVec
	claimRejections    *prometheus.CounterVec
	fundsMoved         *prometheus.CounterVec
	projectTransitions *prometheus.CounterVec
	persistJobs        *prometheus.CounterVec
	integrityGauge     prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	claimsSubmitted      uint64
	claimsDecided        uint64
	persistFailures      uint64
	integrityViolations  int64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	claimEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_claim_events_total",
		Help: "Work claim submissions and decisions by outcome",
	}, []string{"event"})

	claimRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_claim_refusals_total",
		Help: "Claim operations refused by the ledger or workflow, by error code",
	}, []string{"code"})

	fundsMoved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_amount_minor_total",
		Help: "Minor units reserved, committed or released, by currency",
	}, []string{"currency", "kind"})

	projectTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_project_transitions_total",
		Help: "Project lifecycle transitions by target status",
	}, []string{"status"})

	persistJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "funding_persist_jobs_total",
		Help: "Write-behind persistence jobs by result",
	}, []string{"result"})

	integrityGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "funding_integrity_violations",
		Help: "Projects failing reconciliation in the last integrity sweep",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration, claimEvents, claimRejections, fundsMoved, projectTransitions, persistJobs, integrityGauge, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		dbQueryDuration:    dbQueryDuration,
		claimEvents:        claimEvents,
		claimRejections:    claimRejections,
		fundsMoved:         fundsMoved,
		projectTransitions: projectTransitions,
		persistJobs:        persistJobs,
		integrityGauge:     integrityGauge,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordClaimSubmitted counts a reservation taken for a new claim.
func (m *MetricsService) RecordClaimSubmitted(amount money.Money) {
	if m == nil {
		return
	}
	m.claimEvents.WithLabelValues("submitted").Inc()
	m.fundsMoved.WithLabelValues(amount.Currency(), "reserved").Add(float64(amount.Amount()))
	atomic.AddUint64(&m.claimsSubmitted, 1)
}

// RecordClaimDecision counts a terminal decision and the funds it moved.
func (m *MetricsService) RecordClaimDecision(outcome models.DecisionOutcome, amount money.Money) {
	if m == nil {
		return
	}
	m.claimEvents.WithLabelValues(string(outcome)).Inc()
	kind := "released"
	if outcome == models.DecisionApproved {
		kind = "committed"
	}
	m.fundsMoved.WithLabelValues(amount.Currency(), kind).Add(float64(amount.Amount()))
	atomic.AddUint64(&m.claimsDecided, 1)
}

// RecordClaimRefusal counts claim operations refused with a domain error code.
func (m *MetricsService) RecordClaimRefusal(code string) {
	if m == nil || code == "" {
		return
	}
	m.claimRejections.WithLabelValues(code).Inc()
}

// RecordProjectTransition counts lifecycle moves.
func (m *MetricsService) RecordProjectTransition(status models.ProjectStatus) {
	if m == nil {
		return
	}
	m.projectTransitions.WithLabelValues(string(status)).Inc()
}

// RecordPersistJob counts write-behind job outcomes.
func (m *MetricsService) RecordPersistJob(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.persistJobs.WithLabelValues("failed").Inc()
		atomic.AddUint64(&m.persistFailures, 1)
		return
	}
	m.persistJobs.WithLabelValues("saved").Inc()
}

// SetIntegrityViolations publishes the result of the latest sweep.
func (m *MetricsService) SetIntegrityViolations(n int) {
	if m == nil {
		return
	}
	m.integrityGauge.Set(float64(n))
	atomic.StoreInt64(&m.integrityViolations, int64(n))
}

// Snapshot returns aggregated metrics suitable for JSON endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		ClaimsSubmitted:          atomic.LoadUint64(&m.claimsSubmitted),
		ClaimsDecided:            atomic.LoadUint64(&m.claimsDecided),
		PersistFailures:          atomic.LoadUint64(&m.persistFailures),
		IntegrityViolations:      int(atomic.LoadInt64(&m.integrityViolations)),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
