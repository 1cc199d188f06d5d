package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics observes the load balancer's queue and dispatch loop.
type SchedulerMetrics struct {
	dispatches  *prometheus.CounterVec
	dispatchDur prometheus.Histogram
	scaleEvents *prometheus.CounterVec
}

// NewSchedulerMetrics creates the scheduler collectors, or nil when
// metrics are disabled.
func NewSchedulerMetrics() *SchedulerMetrics {
	reg := Registry()
	if reg == nil {
		return nil
	}

	return &SchedulerMetrics{
		dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardvault_lb_dispatches_total",
				Help: "Forwarded requests by node and outcome",
			},
			[]string{"node", "status"},
		),
		dispatchDur: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shardvault_lb_dispatch_seconds",
				Help:    "Dispatch latency including simulated scheduling latency",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		scaleEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardvault_lb_scale_events_total",
				Help: "Scale events published, by action",
			},
			[]string{"action"},
		),
	}
}

// RegisterQueueDepth exposes the queue depth as a gauge sampled at
// scrape time. Does nothing when metrics are disabled.
func RegisterQueueDepth(size func() int) {
	reg := Registry()
	if reg == nil {
		return
	}
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "shardvault_lb_queue_depth",
			Help: "Requests currently waiting in the scheduler queue",
		},
		func() float64 { return float64(size()) },
	)
}

// ObserveDispatch records one forwarded request.
func (m *SchedulerMetrics) ObserveDispatch(node string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.dispatches.WithLabelValues(node, status).Inc()
	m.dispatchDur.Observe(elapsed.Seconds())
}

// RecordScaleEvent records one published scale event.
func (m *SchedulerMetrics) RecordScaleEvent(action string) {
	if m == nil {
		return
	}
	m.scaleEvents.WithLabelValues(action).Inc()
}
