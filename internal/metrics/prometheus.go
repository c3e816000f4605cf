package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the inter-DC node
type Metrics struct {
	// Buffer metrics
	BufferedTxnsTotal   prometheus.Counter
	BufferFlushesTotal  prometheus.Counter
	BufferFlushDuration prometheus.Histogram
	BatchesDroppedTotal prometheus.Counter

	// Compaction metrics
	CompactionInputTxns      prometheus.Histogram
	CompactionInputRecords   prometheus.Histogram
	CompactionOutputRecords  prometheus.Histogram
	CompactionFallbacksTotal prometheus.Counter

	// Publisher metrics
	BroadcastsTotal      prometheus.CounterVec
	PublishErrorsTotal   prometheus.CounterVec
	PublishTimeoutsTotal prometheus.Counter
	PublisherQueueDepth  prometheus.Gauge

	// Cluster metrics
	RingNodesTotal     prometheus.Gauge
	GossipMembersTotal prometheus.Gauge

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with the given
// registerer (prometheus.DefaultRegisterer in production).
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		BufferedTxnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "buffered_txns_total",
			Help:        "Total number of transactions buffered for inter-DC replication",
			ConstLabels: labels,
		}),
		BufferFlushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "buffer_flushes_total",
			Help:        "Total number of non-empty buffer flushes",
			ConstLabels: labels,
		}),
		BufferFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "buffer_flush_duration_seconds",
			Help:        "Histogram of flush worker durations (compact + broadcast)",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		BatchesDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "batches_dropped_total",
			Help:        "Total number of batches dropped due to malformed transactions",
			ConstLabels: labels,
		}),

		CompactionInputTxns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "compaction_input_txns",
			Help:        "Histogram of transactions per compacted batch",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CompactionInputRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "compaction_input_records",
			Help:        "Histogram of log records entering compaction",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CompactionOutputRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "compaction_output_records",
			Help:        "Histogram of log records leaving compaction",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CompactionFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "compaction_fallbacks_total",
			Help:        "Total number of compaction crashes falling back to the uncompacted batch",
			ConstLabels: labels,
		}),

		BroadcastsTotal: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "broadcasts_total",
			Help:        "Total number of transactions broadcast by destination DC",
			ConstLabels: labels,
		}, []string{"dcid"}),
		PublishErrorsTotal: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "publish_errors_total",
			Help:        "Total number of failed publishes by destination DC",
			ConstLabels: labels,
		}, []string{"dcid"}),
		PublishTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "publish_timeouts_total",
			Help:        "Total number of broadcast requests that timed out waiting for the publisher",
			ConstLabels: labels,
		}),
		PublisherQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "publisher_queue_depth",
			Help:        "Current depth of the publisher request queue",
			ConstLabels: labels,
		}),

		RingNodesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "ring_nodes_total",
			Help:        "Current number of physical nodes on the ring",
			ConstLabels: labels,
		}),
		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "interdc",
			Name:        "gossip_members_total",
			Help:        "Current number of gossip members",
			ConstLabels: labels,
		}),

		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current memory usage in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordBuffered records a buffered transaction
func (m *Metrics) RecordBuffered() {
	m.BufferedTxnsTotal.Inc()
}

// RecordFlush records a non-empty flush
func (m *Metrics) RecordFlush(duration float64) {
	m.BufferFlushesTotal.Inc()
	m.BufferFlushDuration.Observe(duration)
}

// RecordBatchDropped records a dropped batch
func (m *Metrics) RecordBatchDropped() {
	m.BatchesDroppedTotal.Inc()
}

// RecordCompaction records the record counts of one compaction pass
func (m *Metrics) RecordCompaction(inputTxns, inputRecords, outputRecords int) {
	m.CompactionInputTxns.Observe(float64(inputTxns))
	m.CompactionInputRecords.Observe(float64(inputRecords))
	m.CompactionOutputRecords.Observe(float64(outputRecords))
}

// RecordCompactionFallback records a compaction crash fallback
func (m *Metrics) RecordCompactionFallback() {
	m.CompactionFallbacksTotal.Inc()
}

// RecordBroadcast records a successful publish to a DC
func (m *Metrics) RecordBroadcast(dcid string) {
	m.BroadcastsTotal.WithLabelValues(dcid).Inc()
}

// RecordPublishError records a failed publish to a DC
func (m *Metrics) RecordPublishError(dcid string) {
	m.PublishErrorsTotal.WithLabelValues(dcid).Inc()
}

// RecordPublishTimeout records a broadcast request timeout
func (m *Metrics) RecordPublishTimeout() {
	m.PublishTimeoutsTotal.Inc()
}

// UpdateClusterStats updates ring and gossip gauges
func (m *Metrics) UpdateClusterStats(ringNodes, gossipMembers int) {
	m.RingNodesTotal.Set(float64(ringNodes))
	m.GossipMembersTotal.Set(float64(gossipMembers))
}

// UpdateSystemStats updates system-level statistics
func (m *Metrics) UpdateSystemStats(memoryUsage int64, goroutines int) {
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
