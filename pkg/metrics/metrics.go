// Package metrics exposes Prometheus instrumentation for the management
// daemon: topology gauges, classifier transitions, switchover promotions,
// quota aggregation timing, and RPC/legacy-protocol latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology gauges
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mgmtd_nodes_total",
			Help: "Total number of registered nodes by node type",
		},
		[]string{"node_type"},
	)

	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mgmtd_targets_total",
			Help: "Total number of targets by node type and consistency state",
		},
		[]string{"node_type", "consistency"},
	)

	BuddyGroupsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mgmtd_buddy_groups_total",
			Help: "Total number of buddy groups by node type",
		},
		[]string{"node_type"},
	)

	StoragePoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mgmtd_storage_pools_total",
			Help: "Total number of storage pools",
		},
	)

	// Capacity pool classification
	CapacityPoolClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgmtd_capacity_pool_classifications_total",
			Help: "Total number of capacity pool classifications by scope and resulting category",
		},
		[]string{"scope", "category"},
	)

	// Buddy switchover
	SwitchoverPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgmtd_switchover_promotions_total",
			Help: "Total number of secondary-to-primary promotions by node type",
		},
		[]string{"node_type"},
	)

	SwitchoverCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mgmtd_switchover_cycle_duration_seconds",
			Help:    "Time taken for one switchover evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Quota aggregation
	QuotaAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mgmtd_quota_aggregation_duration_seconds",
			Help:    "Time taken for one quota aggregation cycle, by storage pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool_id"},
	)

	QuotaExceededIDsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mgmtd_quota_exceeded_ids_total",
			Help: "Number of quota IDs currently exceeding their effective limit",
		},
		[]string{"pool_id", "id_type", "quota_type"},
	)

	// Legacy protocol (C1-C3)
	LegacyMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgmtd_legacy_messages_total",
			Help: "Total number of legacy protocol messages handled, by msg_id and result",
		},
		[]string{"msg_id", "result"},
	)

	LegacyDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mgmtd_legacy_dispatch_duration_seconds",
			Help:    "Time taken to handle a legacy protocol message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"msg_id"},
	)

	// Connection pool
	ConnPoolDialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgmtd_connpool_dials_total",
			Help: "Total number of outbound stream dials by result",
		},
		[]string{"result"},
	)

	ConnPoolIdleStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mgmtd_connpool_idle_streams",
			Help: "Current number of idle pooled streams across all peers",
		},
	)

	// Structured RPC (C10)
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgmtd_rpc_requests_total",
			Help: "Total number of structured RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mgmtd_rpc_request_duration_seconds",
			Help:    "Structured RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// State store (C4)
	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mgmtd_store_operation_duration_seconds",
			Help:    "Time taken for a state-store operation, by kind (read, write, write_no_sync)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	StoreQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mgmtd_store_queue_depth",
			Help: "Number of operations currently queued for the state-store worker",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		TargetsTotal,
		BuddyGroupsTotal,
		StoragePoolsTotal,
		CapacityPoolClassifications,
		SwitchoverPromotionsTotal,
		SwitchoverCycleDuration,
		QuotaAggregationDuration,
		QuotaExceededIDsTotal,
		LegacyMessagesTotal,
		LegacyDispatchDuration,
		ConnPoolDialsTotal,
		ConnPoolIdleStreams,
		RPCRequestsTotal,
		RPCRequestDuration,
		StoreOpDuration,
		StoreQueueDepth,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed duration into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed duration into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
