package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the recorder, stats reader and flusher.
type Metrics struct {
	// View recording
	ViewsRecordedTotal  *prometheus.CounterVec
	RecordErrorsTotal   *prometheus.CounterVec
	PartialBatchesTotal prometheus.Counter

	// Counter store
	StoreUnavailableTotal   *prometheus.CounterVec
	StoreOperationDuration  *prometheus.HistogramVec
	StoreBatchOperationSize prometheus.Histogram

	// Flush
	FlushObjectsTotal *prometheus.CounterVec
	FlushDuration     prometheus.Histogram
	FlushRunsTotal    *prometheus.CounterVec

	// HTTP (health and metrics server)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ViewsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_views_recorded_total",
				Help: "Total number of page views recorded",
			},
			[]string{"unique"},
		),
		RecordErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_record_errors_total",
				Help: "Total number of page views that could not be recorded",
			},
			[]string{"reason"},
		),
		PartialBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "insight_partial_batches_total",
				Help: "Total number of recording batches where some but not all operations failed",
			},
		),

		StoreUnavailableTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_store_unavailable_total",
				Help: "Total number of operations answered with defaults because the counter store was unavailable",
			},
			[]string{"operation"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insight_store_operation_duration_seconds",
				Help:    "Counter store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"operation"},
		),
		StoreBatchOperationSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insight_store_batch_operations",
				Help:    "Number of operations per counter store batch",
				Buckets: []float64{1, 2, 4, 8, 16, 32},
			},
		),

		FlushObjectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_flush_objects_total",
				Help: "Total number of objects processed by the counter flusher",
			},
			[]string{"status"},
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insight_flush_duration_seconds",
				Help:    "Counter flush duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		FlushRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_flush_runs_total",
				Help: "Total number of counter flush runs",
			},
			[]string{"status"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insight_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.ViewsRecordedTotal,
		m.RecordErrorsTotal,
		m.PartialBatchesTotal,
		m.StoreUnavailableTotal,
		m.StoreOperationDuration,
		m.StoreBatchOperationSize,
		m.FlushObjectsTotal,
		m.FlushDuration,
		m.FlushRunsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveViewRecorded counts a recorded view. Safe on a nil receiver, as are
// the other helpers below.
func (m *Metrics) ObserveViewRecorded(unique bool) {
	if m == nil {
		return
	}
	m.ViewsRecordedTotal.WithLabelValues(strconv.FormatBool(unique)).Inc()
}

// ObserveRecordError counts a view that could not be recorded.
func (m *Metrics) ObserveRecordError(reason string) {
	if m == nil {
		return
	}
	m.RecordErrorsTotal.WithLabelValues(reason).Inc()
}

// ObservePartialBatch counts a partially applied batch.
func (m *Metrics) ObservePartialBatch() {
	if m == nil {
		return
	}
	m.PartialBatchesTotal.Inc()
}

// ObserveStoreUnavailable counts an operation skipped because the store is down.
func (m *Metrics) ObserveStoreUnavailable(operation string) {
	if m == nil {
		return
	}
	m.StoreUnavailableTotal.WithLabelValues(operation).Inc()
}

// ObserveStoreOperation records the duration of a counter store call.
func (m *Metrics) ObserveStoreOperation(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveBatchSize records how many operations a batch carried.
func (m *Metrics) ObserveBatchSize(n int) {
	if m == nil {
		return
	}
	m.StoreBatchOperationSize.Observe(float64(n))
}

// ObserveFlushObject counts one object handled by the flusher.
func (m *Metrics) ObserveFlushObject(status string) {
	if m == nil {
		return
	}
	m.FlushObjectsTotal.WithLabelValues(status).Inc()
}

// ObserveFlush records a completed flush run.
func (m *Metrics) ObserveFlush(started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.FlushRunsTotal.WithLabelValues(status).Inc()
	m.FlushDuration.Observe(time.Since(started).Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Paths are labelled with the matched route template.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
