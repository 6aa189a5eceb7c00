package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if metrics.ViewsRecordedTotal == nil || metrics.PartialBatchesTotal == nil || metrics.FlushDuration == nil {
		t.Error("metric not initialized")
	}

	t.Run("double registration panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic registering the same metrics twice")
			}
		}()
		NewMetrics(registry)
	})
}

func TestMetrics_ObserveViewRecorded(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.ObserveViewRecorded(true)
	metrics.ObserveViewRecorded(false)
	metrics.ObserveViewRecorded(false)

	expected := `
		# HELP insight_views_recorded_total Total number of page views recorded
		# TYPE insight_views_recorded_total counter
		insight_views_recorded_total{unique="false"} 2
		insight_views_recorded_total{unique="true"} 1
	`
	if err := testutil.CollectAndCompare(metrics.ViewsRecordedTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric output: %v", err)
	}
}

func TestMetrics_ObservePartialBatchAndErrors(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.ObservePartialBatch()
	metrics.ObserveRecordError("store_unavailable")
	metrics.ObserveStoreUnavailable("record_view")

	if got := testutil.ToFloat64(metrics.PartialBatchesTotal); got != 1 {
		t.Errorf("Expected 1 partial batch, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RecordErrorsTotal.WithLabelValues("store_unavailable")); got != 1 {
		t.Errorf("Expected 1 record error, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.StoreUnavailableTotal.WithLabelValues("record_view")); got != 1 {
		t.Errorf("Expected 1 unavailable operation, got %v", got)
	}
}

func TestMetrics_ObserveStoreOperation(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.ObserveStoreOperation("batch", time.Now().Add(-10*time.Millisecond))
	metrics.ObserveBatchSize(4)

	if count := testutil.CollectAndCount(metrics.StoreOperationDuration); count != 1 {
		t.Errorf("Expected 1 series, got %d", count)
	}
	if count := testutil.CollectAndCount(metrics.StoreBatchOperationSize); count != 1 {
		t.Errorf("Expected 1 series, got %d", count)
	}
}

func TestMetrics_ObserveFlush(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.ObserveFlushObject("flushed")
	metrics.ObserveFlushObject("flushed")
	metrics.ObserveFlushObject("failed")
	metrics.ObserveFlush(time.Now(), nil)
	metrics.ObserveFlush(time.Now(), errors.New("boom"))

	expected := `
		# HELP insight_flush_runs_total Total number of counter flush runs
		# TYPE insight_flush_runs_total counter
		insight_flush_runs_total{status="error"} 1
		insight_flush_runs_total{status="success"} 1
	`
	if err := testutil.CollectAndCompare(metrics.FlushRunsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric output: %v", err)
	}
	if got := testutil.ToFloat64(metrics.FlushObjectsTotal.WithLabelValues("flushed")); got != 2 {
		t.Errorf("Expected 2 flushed objects, got %v", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveViewRecorded(true)
	metrics.ObserveRecordError("x")
	metrics.ObservePartialBatch()
	metrics.ObserveStoreUnavailable("x")
	metrics.ObserveStoreOperation("x", time.Now())
	metrics.ObserveBatchSize(1)
	metrics.ObserveFlushObject("x")
	metrics.ObserveFlush(time.Now(), nil)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/stats/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/stats/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/stats/{id}", "418")); got != 1 {
		t.Errorf("Expected request labelled with the route template, got %v", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.ObserveViewRecorded(true)

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `insight_views_recorded_total{unique="true"} 1`) {
		t.Errorf("metrics output missing recorded view counter:\n%s", body)
	}
}
