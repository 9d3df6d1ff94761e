package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters/histograms for queue operations.
type QueueMetrics struct {
	operationsTotal    *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	staleEntriesTotal  prometheus.Counter
	operationLatency   *prometheus.HistogramVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waitwise",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Total queue operations by outcome",
		}, []string{"operation", "status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waitwise",
			Subsystem: "queue",
			Name:      "notifications_total",
			Help:      "Total patient notifications sent",
		}, []string{"channel"}),
		staleEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waitwise",
			Subsystem: "queue",
			Name:      "stale_entries_healed_total",
			Help:      "Queue entries removed by notify-next self-heal",
		}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waitwise",
			Subsystem: "queue",
			Name:      "operation_latency_seconds",
			Help:      "Latency of queue operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.notificationsTotal, m.staleEntriesTotal, m.operationLatency)
	return m
}

func (m *QueueMetrics) ObserveOperation(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *QueueMetrics) ObserveNotification(channel string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel).Inc()
}

func (m *QueueMetrics) ObserveStaleEntry() {
	if m == nil {
		return
	}
	m.staleEntriesTotal.Inc()
}
