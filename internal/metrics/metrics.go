// Package metrics holds the Prometheus collectors of the catalog service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec

	// Ingestion metrics
	SchemaValidationTotal *prometheus.CounterVec
	CogsIngestedTotal     *prometheus.CounterVec
	AuditWriteTotal       *prometheus.CounterVec

	// Retention metrics
	CogsPurgedTotal prometheus.Counter
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide Metrics, creating and registering it on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcat_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cogcat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcat_storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cogcat_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcat_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		SchemaValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcat_schema_validation_total",
			Help: "Total number of payload schema validations",
		}, []string{"kind", "status"}),

		CogsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcat_cogs_ingested_total",
			Help: "Total number of cog records ingested",
		}, []string{"satellite_id", "processing_level"}),

		AuditWriteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cogcat_audit_writes_total",
			Help: "Total number of audit payload writes",
		}, []string{"status"}),

		CogsPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cogcat_cogs_purged_total",
			Help: "Total number of cog records removed by retention purges",
		}),
	}

	registerMetrics(m)
	globalMetrics = m
	return m
}

func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.SchemaValidationTotal)
	registerOrGet(m.CogsIngestedTotal)
	registerOrGet(m.AuditWriteTotal)
	registerOrGet(m.CogsPurgedTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// Status maps an error to the "ok"/"error" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveStorage records one storage call started at start.
func (m *Metrics) ObserveStorage(operation string, start time.Time, err error) {
	status := Status(err)
	m.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
