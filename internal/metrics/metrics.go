// Package metrics provides Prometheus metrics for the StarDrive server.
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
			Name: "stardrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stardrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stardrive_content_bytes_downloaded_total",
			Help: "Total bytes of single-file downloads",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stardrive_content_bytes_uploaded_total",
			Help: "Total bytes uploaded",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_content_downloads_total",
			Help: "Total number of single-file downloads",
		},
		[]string{"status"},
	)

	contentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_content_uploads_total",
			Help: "Total number of uploads",
		},
		[]string{"status"},
	)

	// Archive metrics
	archiveStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_archive_streams_total",
			Help: "Archive streams by format and outcome",
		},
		[]string{"format", "status"},
	)

	archiveBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_archive_bytes_total",
			Help: "Compressed archive bytes sent to clients",
		},
		[]string{"format"},
	)

	archiveMembersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_archive_members_total",
			Help: "Archive members by outcome (added, skipped)",
		},
		[]string{"result"},
	)

	archiveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stardrive_archive_duration_seconds",
			Help:    "Time spent producing an archive stream",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"format"},
	)

	activeArchiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stardrive_archive_streams_active",
			Help: "Number of archive producers currently running",
		},
	)

	// Search and sizing
	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stardrive_search_duration_seconds",
			Help:    "Search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	searchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stardrive_search_results",
			Help:    "Results returned per search page",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 2000},
		},
	)

	dirSizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stardrive_directory_size_duration_seconds",
			Help:    "Directory size computation time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage operation metrics
	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_storage_operations_total",
			Help: "Storage operations by name and outcome",
		},
		[]string{"operation", "status"},
	)

	// Download link metrics
	downloadLinksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_download_links_created_total",
			Help: "Download links created",
		},
		[]string{"source"},
	)

	downloadLinksResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stardrive_download_links_resolved_total",
			Help: "Download link resolutions by result",
		},
		[]string{"result"},
	)

	downloadLinksPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stardrive_download_links_purged_total",
			Help: "Expired download records removed",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stardrive_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordContentDownload records a single-file download.
func RecordContentDownload(bytes int64, success bool) {
	contentBytesDownloaded.Add(float64(bytes))
	contentDownloadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordContentUpload records an upload.
func RecordContentUpload(bytes int64, success bool) {
	contentBytesUploaded.Add(float64(bytes))
	contentUploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// ArchiveStarted marks an archive producer as running.
func ArchiveStarted() {
	activeArchiveStreams.Inc()
}

// RecordArchive records a finished archive producer.
func RecordArchive(format string, duration time.Duration, success bool) {
	activeArchiveStreams.Dec()
	archiveStreamsTotal.WithLabelValues(format, statusLabel(success)).Inc()
	archiveDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordArchiveBytes records compressed bytes delivered to a client.
func RecordArchiveBytes(format string, bytes int64) {
	archiveBytesTotal.WithLabelValues(format).Add(float64(bytes))
}

// RecordArchiveMember records one archive member as added or skipped.
func RecordArchiveMember(added bool) {
	result := "added"
	if !added {
		result = "skipped"
	}
	archiveMembersTotal.WithLabelValues(result).Inc()
}

// RecordSearch records a search page.
func RecordSearch(duration time.Duration, results int) {
	searchDuration.Observe(duration.Seconds())
	searchResults.Observe(float64(results))
}

// RecordDirectorySize records a directory size computation.
func RecordDirectorySize(duration time.Duration) {
	dirSizeDuration.Observe(duration.Seconds())
}

// RecordStorageOperation records a storage operation outcome.
func RecordStorageOperation(operation string, success bool) {
	storageOperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RecordLinkCreated records a new download link.
func RecordLinkCreated(source string) {
	downloadLinksCreated.WithLabelValues(source).Inc()
}

// RecordLinkResolved records a download link lookup ("ok", "invalid", "denied").
func RecordLinkResolved(result string) {
	downloadLinksResolved.WithLabelValues(result).Inc()
}

// RecordLinksPurged records expired download records removed by a purge.
func RecordLinksPurged(n int64) {
	downloadLinksPurged.Add(float64(n))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled by their mux pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
		}()
		next.ServeHTTP(rw, r)
	})
}
