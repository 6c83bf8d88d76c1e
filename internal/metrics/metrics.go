// Package metrics provides Prometheus metrics for the treefs server and its
// storage providers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treefs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treefs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Provider operation metrics
	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treefs_storage_operations_total",
			Help: "Total storage provider operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treefs_storage_operation_duration_seconds",
			Help:    "Storage provider operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	contentBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treefs_content_bytes_written_total",
			Help: "Total file content bytes accepted by providers",
		},
		[]string{"backend"},
	)

	checksumMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treefs_checksum_mismatches_total",
			Help: "File creations rejected because of a checksum mismatch",
		},
		[]string{"backend"},
	)

	// Object store metrics
	bucketOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treefs_bucket_operation_duration_seconds",
			Help:    "Object store call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"bucket", "operation"},
	)

	bucketOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treefs_bucket_operations_total",
			Help: "Total object store calls",
		},
		[]string{"bucket", "operation", "status"},
	)

	treeNodesBuilt = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treefs_flat_tree_nodes",
			Help:    "Nodes reconstructed per flat-key listing",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStorageOperation records a provider operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(err == nil)).Inc()
}

// RecordContentWrite records accepted file content.
func RecordContentWrite(backend string, bytes int64) {
	contentBytesWritten.WithLabelValues(backend).Add(float64(bytes))
}

// RecordChecksumMismatch records a rejected file creation.
func RecordChecksumMismatch(backend string) {
	checksumMismatches.WithLabelValues(backend).Inc()
}

// RecordBucketOperation records an object store call.
func RecordBucketOperation(bucket, operation string, duration time.Duration, success bool) {
	bucketOperationDuration.WithLabelValues(bucket, operation).Observe(duration.Seconds())
	bucketOperationsTotal.WithLabelValues(bucket, operation, status(success)).Inc()
}

// RecordTreeBuild records the size of a reconstructed tree.
func RecordTreeBuild(nodes int) {
	treeNodesBuilt.Observe(float64(nodes))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The
// route label is the matched ServeMux pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
