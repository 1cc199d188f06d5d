package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics observes the aggregator's storage pipeline.
type PipelineMetrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	transferBytes *prometheus.HistogramVec
	chunkTransfer prometheus.Histogram
}

// NewPipelineMetrics creates the pipeline collectors, or nil when
// metrics are disabled.
func NewPipelineMetrics() *PipelineMetrics {
	reg := Registry()
	if reg == nil {
		return nil
	}

	return &PipelineMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardvault_pipeline_operations_total",
				Help: "Pipeline operations by kind and outcome",
			},
			[]string{"operation", "status"}, // upload/download/delete, ok/error
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shardvault_pipeline_duration_seconds",
				Help:    "End-to-end pipeline operation latency",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"operation"},
		),
		transferBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shardvault_pipeline_file_bytes",
				Help:    "Plaintext file sizes moved through the pipeline",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
			},
			[]string{"operation"},
		),
		chunkTransfer: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shardvault_chunk_transfer_seconds",
				Help:    "Single chunk transfer latency against a backend",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
	}
}

// ObserveOperation records one completed pipeline operation.
func (m *PipelineMetrics) ObserveOperation(operation string, err error, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if bytes > 0 {
		m.transferBytes.WithLabelValues(operation).Observe(float64(bytes))
	}
}

// ObserveChunkTransfer records one chunk put or get.
func (m *PipelineMetrics) ObserveChunkTransfer(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.chunkTransfer.Observe(elapsed.Seconds())
}
