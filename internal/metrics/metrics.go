// Package metrics defines the Prometheus surface for one node: write/read
// throughput, Oplog growth, gossip sync health per peer, conflict
// resolution counts, and the offline queue depth the health endpoint
// also exposes (spec §7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector registered for a node.
type Metrics struct {
	// latency histograms
	PutLatency  prometheus.Histogram
	GetLatency  prometheus.Histogram
	SyncLatency *prometheus.HistogramVec // per-peer gossip cycle duration

	// write/read throughput
	WriteSuccessTotal prometheus.Counter
	WriteFailureTotal prometheus.Counter
	ReadSuccessTotal  prometheus.Counter
	ReadFailureTotal  prometheus.Counter

	// oplog and vector clock
	OplogEntriesTotal  prometheus.Counter
	OplogPruned        prometheus.Counter
	ChainRejections    prometheus.Counter // hash-chain verification failures on apply
	VectorClockReseeds prometheus.Counter

	// gossip sync
	SyncPullEntries *prometheus.CounterVec // entries pulled, by peer
	SyncPushEntries *prometheus.CounterVec // entries pushed, by peer
	SyncFailures    *prometheus.CounterVec // failed sync cycles, by peer
	PeerHealthScore *prometheus.GaugeVec   // syncer.PeerStats.Score() per peer
	PeerRTT         *prometheus.GaugeVec   // smoothed RTT seconds per peer

	// auth and crypto
	AuthRejections  prometheus.Counter
	CryptoFailures  prometheus.Counter

	// conflict resolution
	ConflictsResolvedLWW   prometheus.Counter
	ConflictsResolvedMerge prometheus.Counter

	// offline queue
	OfflineQueueDepth   prometheus.Gauge
	OfflineQueueDropped prometheus.Counter

	// errors by taxonomy kind (spec §7)
	Errors *prometheus.CounterVec
}

// New creates and registers every collector under namespace (typically
// "riftdb").
func New(namespace string) *Metrics {
	return &Metrics{
		PutLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "put_latency_seconds",
			Help:      "Latency of local PUT operations",
			Buckets:   prometheus.DefBuckets,
		}),

		GetLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "get_latency_seconds",
			Help:      "Latency of local GET operations",
			Buckets:   prometheus.DefBuckets,
		}),

		SyncLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_latency_seconds",
			Help:      "Duration of one gossip sync cycle with a peer",
			Buckets:   prometheus.DefBuckets,
		}, []string{"peer"}),

		WriteSuccessTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "write_success_total", Help: "Total successful local writes",
		}),
		WriteFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "write_failure_total", Help: "Total failed local writes",
		}),
		ReadSuccessTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_success_total", Help: "Total successful local reads",
		}),
		ReadFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_failure_total", Help: "Total failed local reads",
		}),

		OplogEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oplog_entries_total", Help: "Total Oplog entries appended (local + merged)",
		}),
		OplogPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oplog_pruned_total", Help: "Total Oplog entries removed by Prune",
		}),
		ChainRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_rejections_total", Help: "Hash-chain verification failures on apply",
		}),
		VectorClockReseeds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vector_clock_reseeds_total", Help: "Vector Clock cache invalidate+reseed events",
		}),

		SyncPullEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_pull_entries_total", Help: "Entries pulled from a peer",
		}, []string{"peer"}),
		SyncPushEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_push_entries_total", Help: "Entries pushed to a peer",
		}, []string{"peer"}),
		SyncFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_failures_total", Help: "Failed gossip sync cycles",
		}, []string{"peer"}),
		PeerHealthScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peer_health_score", Help: "syncer.PeerStats health score (0..1) per peer",
		}, []string{"peer"}),
		PeerRTT: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peer_rtt_seconds", Help: "Smoothed RTT to peer",
		}, []string{"peer"}),

		AuthRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_rejections_total", Help: "Handshake credential rejections",
		}),
		CryptoFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "crypto_failures_total", Help: "HMAC or decrypt failures on encrypted frames",
		}),

		ConflictsResolvedLWW: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "conflicts_resolved_lww_total", Help: "Conflicts resolved by last-write-wins",
		}),
		ConflictsResolvedMerge: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "conflicts_resolved_merge_total", Help: "Conflicts resolved by recursive structural merge",
		}),

		OfflineQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "offline_queue_depth", Help: "Current queued offline operations",
		}),
		OfflineQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offline_queue_dropped_total", Help: "Operations dropped from the offline queue on overflow",
		}),

		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Total errors by taxonomy kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RecordWriteSuccess() { m.WriteSuccessTotal.Inc() }
func (m *Metrics) RecordWriteFailure() { m.WriteFailureTotal.Inc() }
func (m *Metrics) RecordReadSuccess()  { m.ReadSuccessTotal.Inc() }
func (m *Metrics) RecordReadFailure()  { m.ReadFailureTotal.Inc() }
