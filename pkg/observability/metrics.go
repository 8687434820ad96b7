package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// All record helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Database metrics
	DBQueriesTotal    *prometheus.CounterVec
	DBQueryDuration   *prometheus.HistogramVec
	DBConnectionsOpen prometheus.Gauge
	DBConnectionsIdle prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Object storage metrics
	UploadsTotal *prometheus.CounterVec

	// Business metrics
	ArticlesCreatedTotal *prometheus.CounterVec
	AccessDeniedTotal    *prometheus.CounterVec
	RegistrationsTotal   *prometheus.CounterVec
	LoginsTotal          *prometheus.CounterVec
	PlansExpiredTotal    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		DBQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_db_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_uploads_total",
				Help: "Total number of image uploads",
			},
			[]string{"bucket", "status"},
		),

		ArticlesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_articles_created_total",
				Help: "Articles created, by access level",
			},
			[]string{"access_level"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_access_denied_total",
				Help: "Denied article views or mutations, by action and access level",
			},
			[]string{"action", "access_level"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_registrations_total",
				Help: "Account registrations, by method",
			},
			[]string{"method"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_logins_total",
				Help: "Login attempts, by outcome",
			},
			[]string{"status"},
		),
		PlansExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_plans_expired_total",
				Help: "Plan assignments downgraded after their end date",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.DBQueriesTotal,
		m.DBQueryDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.UploadsTotal,
		m.ArticlesCreatedTotal,
		m.AccessDeniedTotal,
		m.RegistrationsTotal,
		m.LoginsTotal,
		m.PlansExpiredTotal,
	)

	return m
}

// ObserveDBQuery records one database round trip
func (m *Metrics) ObserveDBQuery(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DBQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordCacheHit counts a hit in the named cache
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a miss in the named cache
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordUpload(bucket, status string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(bucket, status).Inc()
}

func (m *Metrics) RecordArticleCreated(level string) {
	if m == nil {
		return
	}
	m.ArticlesCreatedTotal.WithLabelValues(level).Inc()
}

// RecordAccessDenied counts a policy denial. action is view, create, edit or delete.
func (m *Metrics) RecordAccessDenied(action, level string) {
	if m == nil {
		return
	}
	m.AccessDeniedTotal.WithLabelValues(action, level).Inc()
}

func (m *Metrics) RecordRegistration(method string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordLogin(status string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordPlansExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PlansExpiredTotal.Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template to keep label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Install it with router.Use so the matched route is available.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
