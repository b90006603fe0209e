package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector manages the Prometheus metrics emitted by the soak CLI and
// the multipart coordinator.
type Collector struct {
	operationDuration *prometheus.HistogramVec
	operationCount    *prometheus.CounterVec
	operationSuccess  *prometheus.CounterVec
	bytesTransferred  *prometheus.CounterVec

	signOperationsTotal *prometheus.CounterVec

	multipartAbortsTotal *prometheus.CounterVec
	queueDepth           *prometheus.GaugeVec
	inFlightParts        *prometheus.GaugeVec

	httpTiming    *prometheus.HistogramVec
	lastDuration  *prometheus.GaugeVec
	lastHTTPPhase *prometheus.GaugeVec
}

// HTTPTimings holds a per-request httptrace timing breakdown.
type HTTPTimings struct {
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	Transfer     time.Duration
	Total        time.Duration
}

// NewCollector registers and returns a fresh metrics Collector.
func NewCollector() *Collector {
	return &Collector{
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3client_operation_duration_seconds",
				Help:    "Duration of S3 operations (stat, download, upload, delete, commit, part)",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"operation", "bucket"},
		),
		operationCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3client_operation_total",
				Help: "Total count of S3 operations attempted",
			},
			[]string{"operation", "bucket"},
		),
		operationSuccess: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3client_operation_result_total",
				Help: "Total count of S3 operations by outcome",
			},
			[]string{"operation", "bucket", "outcome"},
		),
		bytesTransferred: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3client_bytes_transferred_total",
				Help: "Total bytes uploaded or downloaded",
			},
			[]string{"operation", "bucket"},
		),
		signOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3client_sign_operations_total",
				Help: "Total count of request-signing operations by mode",
			},
			[]string{"mode", "outcome"},
		),
		multipartAbortsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3client_multipart_aborts_total",
				Help: "Total count of multipart uploads that ended in abort, by reason",
			},
			[]string{"bucket", "reason"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3client_multipart_queue_depth",
				Help: "Current depth of a multipart upload's pending-part queue",
			},
			[]string{"bucket"},
		),
		inFlightParts: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3client_multipart_inflight_parts",
				Help: "Current count of in-flight UploadPart requests",
			},
			[]string{"bucket"},
		),
		httpTiming: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3client_http_timing_seconds",
				Help:    "Granular HTTP timing breakdown (dns, connect, tls, ttfb, transfer)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation", "phase"},
		),
		lastDuration: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3client_last_duration_seconds",
				Help: "Duration of the most recent operation (live/instant value)",
			},
			[]string{"operation", "bucket"},
		),
		lastHTTPPhase: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3client_last_http_phase_seconds",
				Help: "Most recent HTTP phase timing (live/instant value)",
			},
			[]string{"operation", "phase"},
		),
	}
}

// RecordOperation records one simple-executor call's duration and
// outcome.
func (c *Collector) RecordOperation(operation, bucket, outcome string, duration time.Duration) {
	c.operationCount.WithLabelValues(operation, bucket).Inc()
	c.operationSuccess.WithLabelValues(operation, bucket, outcome).Inc()
	if duration > 0 {
		c.operationDuration.WithLabelValues(operation, bucket).Observe(duration.Seconds())
		c.lastDuration.WithLabelValues(operation, bucket).Set(duration.Seconds())
	}
}

// RecordBytes adds n bytes to the transferred counter for operation.
func (c *Collector) RecordBytes(operation, bucket string, n int64) {
	if n > 0 {
		c.bytesTransferred.WithLabelValues(operation, bucket).Add(float64(n))
	}
}

// RecordSign records one signing call, mode being "header" or "query".
func (c *Collector) RecordSign(mode string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.signOperationsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordAbort records a multipart upload ending in abort.
func (c *Collector) RecordAbort(bucket, reason string) {
	c.multipartAbortsTotal.WithLabelValues(bucket, reason).Inc()
}

// SetQueueDepth reports the current pending-part queue depth for an
// in-progress multipart upload.
func (c *Collector) SetQueueDepth(bucket string, depth int) {
	c.queueDepth.WithLabelValues(bucket).Set(float64(depth))
}

// SetInFlightParts reports the current count of outstanding UploadPart
// requests for an in-progress multipart upload.
func (c *Collector) SetInFlightParts(bucket string, n int) {
	c.inFlightParts.WithLabelValues(bucket).Set(float64(n))
}

// RecordHTTPTiming records a full httptrace timing breakdown for one
// request.
func (c *Collector) RecordHTTPTiming(operation string, timings HTTPTimings) {
	observe := func(phase string, d time.Duration) {
		if d <= 0 {
			return
		}
		c.httpTiming.WithLabelValues(operation, phase).Observe(d.Seconds())
		c.lastHTTPPhase.WithLabelValues(operation, phase).Set(d.Seconds())
	}
	observe("dns", timings.DNSLookup)
	observe("connect", timings.TCPConnect)
	observe("tls", timings.TLSHandshake)
	observe("ttfb", timings.TTFB)
	observe("transfer", timings.Transfer)
	observe("total", timings.Total)
}

// formatBytesLabel converts a byte count into a human-readable label
// such as "5MB", falling back to a plain byte count ("1536B") when the
// value is not a whole number of KB/MB/GB.
func formatBytesLabel(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB && bytes%GB == 0:
		return fmt.Sprintf("%dGB", bytes/GB)
	case bytes >= MB && bytes%MB == 0:
		return fmt.Sprintf("%dMB", bytes/MB)
	case bytes >= KB && bytes%KB == 0:
		return fmt.Sprintf("%dKB", bytes/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// FormatBytesLabel is the exported form of formatBytesLabel, used by
// internal/fixture to print payload sizes in its log lines.
func FormatBytesLabel(bytes int64) string { return formatBytesLabel(bytes) }
