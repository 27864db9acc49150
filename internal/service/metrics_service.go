package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sis-sync/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the sync pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	pagesFetched    *prometheus.CounterVec
	itemsFetched    *prometheus.CounterVec
	chunksDecoded   *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	rowsPersisted   *prometheus.CounterVec
	rowsSkipped     *prometheus.CounterVec
	reportingRows   *prometheus.CounterVec
	domainDuration  *prometheus.HistogramVec
}

// NewMetricsService registers the collectors.
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

	tokenRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sis_token_refreshes_total",
		Help: "Client-credentials grants issued",
	}, []string{"provider"})

	pagesFetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sis_pages_fetched_total",
		Help: "List pages fetched from upstream",
	}, []string{"endpoint"})

	itemsFetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sis_items_fetched_total",
		Help: "Items returned by upstream list pages",
	}, []string{"endpoint"})

	chunksDecoded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sis_export_chunks_decoded_total",
		Help: "Export chunks decoded, by winning strategy",
	}, []string{"endpoint", "strategy"})

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_batch_duration_seconds",
		Help:    "Duration of one multi-row upsert statement",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	rowsPersisted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_rows_persisted_total",
		Help: "Rows upserted into the normalized store",
	}, []string{"domain"})

	rowsSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_rows_skipped_total",
		Help: "Rows skipped or persisted with unresolved references",
	}, []string{"domain"})

	reportingRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_reporting_rows_total",
		Help: "Reporting rows inserted or refreshed",
	}, []string{"step"})

	domainDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_domain_duration_seconds",
		Help:    "Duration of one domain sync",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"domain", "status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, tokenRefreshes, pagesFetched, itemsFetched, chunksDecoded,
		batchDuration, rowsPersisted, rowsSkipped, reportingRows, domainDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		tokenRefreshes:  tokenRefreshes,
		pagesFetched:    pagesFetched,
		itemsFetched:    itemsFetched,
		chunksDecoded:   chunksDecoded,
		batchDuration:   batchDuration,
		rowsPersisted:   rowsPersisted,
		rowsSkipped:     rowsSkipped,
		reportingRows:   reportingRows,
		domainDuration:  domainDuration,
	}
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// TokenRefreshed implements sis.Observer.
func (m *MetricsService) TokenRefreshed(provider string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(provider).Inc()
}

// PageFetched implements sis.Observer.
func (m *MetricsService) PageFetched(endpoint string, items int) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(endpoint).Inc()
	m.itemsFetched.WithLabelValues(endpoint).Add(float64(items))
}

// ChunkDecoded implements sis.Observer.
func (m *MetricsService) ChunkDecoded(endpoint, strategy string, rows int) {
	if m == nil {
		return
	}
	m.chunksDecoded.WithLabelValues(endpoint, strategy).Inc()
	m.itemsFetched.WithLabelValues(endpoint).Add(float64(rows))
}

// ObserveBatch matches repository.BatchObserver.
func (m *MetricsService) ObserveBatch(table string, rows int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// ObserveDomain records the outcome of a domain sync.
func (m *MetricsService) ObserveDomain(domain models.Domain, result *models.SyncResult, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.domainDuration.WithLabelValues(string(domain), status).Observe(duration.Seconds())
	if result == nil {
		return
	}
	m.rowsPersisted.WithLabelValues(string(domain)).Add(float64(result.Persisted))
	m.rowsSkipped.WithLabelValues(string(domain)).Add(float64(result.Skipped))
}

// ObservePropagation records reporting propagation counts.
func (m *MetricsService) ObservePropagation(result *models.PropagateResult) {
	if m == nil || result == nil {
		return
	}
	m.reportingRows.WithLabelValues("insert").Add(float64(result.Inserted))
	m.reportingRows.WithLabelValues("refresh").Add(float64(result.Refreshed))
}
