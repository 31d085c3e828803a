package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus instruments a node exposes.
type Metrics struct {
	OpsApplied          prometheus.Counter
	ApplyChangesLatency prometheus.Histogram
	MergesReceived      prometheus.Counter
	MergeLatency        prometheus.Histogram
	ConflictsDetected   prometheus.Counter
	TypeMismatches      prometheus.Counter
	ReplicatorPublishes prometheus.Counter
	ReplicatorErrors    prometheus.Counter
	StorageFlushLatency prometheus.Histogram
	ActivePeers         prometheus.Gauge
	ErrorCount          prometheus.Counter
}

// NewMetrics registers and returns every instrument this node exposes.
func NewMetrics() *Metrics {
	return &Metrics{
		OpsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_ops_applied_total",
			Help: "Total number of CRDT operations applied locally",
		}),
		ApplyChangesLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvsync_apply_changes_duration_seconds",
			Help:    "Time to apply a client change request",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		MergesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_merges_received_total",
			Help: "Total number of peer state merges processed",
		}),
		MergeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvsync_merge_duration_seconds",
			Help:    "Time to merge a peer's state",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		ConflictsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_conflicts_detected_total",
			Help: "Total number of concurrent LWW conflicts detected",
		}),
		TypeMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_type_mismatches_total",
			Help: "Total number of merge attempts rejected by a CRDT kind mismatch",
		}),
		ReplicatorPublishes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_replicator_publishes_total",
			Help: "Total number of full-state gossip publishes",
		}),
		ReplicatorErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_replicator_errors_total",
			Help: "Total number of gossip publish/receive failures",
		}),
		StorageFlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvsync_storage_flush_duration_seconds",
			Help:    "Time to durably persist state after a mutation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		ActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvsync_active_peers",
			Help: "Number of peers this node has exchanged state with recently",
		}),
		ErrorCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvsync_errors_total",
			Help: "Total number of handler-level errors",
		}),
	}
}
