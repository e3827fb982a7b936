package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service, both the HTTP surface
// and the permission engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration prometheus.Histogram
	cacheLookups       *prometheus.CounterVec
	conflictsTotal     prometheus.Counter
	decisionsTotal     *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegrid_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitegrid_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegrid_rbac_resolutions_total",
		Help: "Effective-permission resolutions by outcome.",
	}, []string{"outcome"})
	resolutionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitegrid_rbac_resolution_duration_seconds",
		Help:    "Duration of a full permission resolution.",
		Buckets: prometheus.DefBuckets,
	})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegrid_rbac_cache_lookups_total",
		Help: "Permission cache lookups by result.",
	}, []string{"result"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitegrid_rbac_conflicts_resolved_total",
		Help: "Permission codes that required multi-source conflict resolution.",
	})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegrid_rbac_check_decisions_total",
		Help: "Permission check decisions by reason.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, resolutions, resolutionDuration, cacheLookups, conflicts, decisions)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		resolutionsTotal:   resolutions,
		resolutionDuration: resolutionDuration,
		cacheLookups:       cacheLookups,
		conflictsTotal:     conflicts,
		decisionsTotal:     decisions,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveResolution records a completed resolution.
func (m *Metrics) ObserveResolution(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(outcome).Inc()
	m.resolutionDuration.Observe(elapsed.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveConflicts adds the number of codes that needed multi-source
// resolution in one pass.
func (m *Metrics) ObserveConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflictsTotal.Add(float64(n))
}

// ObserveDecision records a check decision by its reason.
func (m *Metrics) ObserveDecision(reason string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(reason).Inc()
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
