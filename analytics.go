package gearbox

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetrics tracks event-related metrics
var EventMetrics = struct {
	EventsTotal     *prometheus.CounterVec
	DroppedMessages *prometheus.CounterVec
	GatewayLatency  *prometheus.GaugeVec
}{
	EventsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearbox_events_total",
			Help: "Total number of events processed, split by cluster and event type",
		},
		[]string{"cluster_id", "event_type"},
	),
	DroppedMessages: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearbox_dropped_messages_total",
			Help: "Messages not forwarded because their guild was unknown or still loading",
		},
		[]string{"cluster_id", "reason"},
	),
	GatewayLatency: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_gateway_latency_seconds",
			Help: "Gateway latency in seconds, measured by heartbeat",
		},
		[]string{"cluster_id", "shard_id"},
	),
}

func RecordEvent(clusterID, eventType string) {
	EventMetrics.EventsTotal.WithLabelValues(clusterID, eventType).Inc()
}

func RecordDroppedMessage(clusterID, reason string) {
	EventMetrics.DroppedMessages.WithLabelValues(clusterID, reason).Inc()
}

func UpdateGatewayLatency(clusterID string, shardID int32, latency float64) {
	EventMetrics.GatewayLatency.WithLabelValues(clusterID, strconv.Itoa(int(shardID))).Set(latency)
}

// ShardMetrics tracks shard-related metrics
var ShardMetrics = struct {
	ClusterStatus *prometheus.GaugeVec
	ShardState    *prometheus.GaugeVec
	ReadyShards   *prometheus.GaugeVec
}{
	ClusterStatus: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_cluster_status",
			Help: "Status of the cluster",
		},
		[]string{"cluster_id"},
	),
	ShardState: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_shard_state",
			Help: "Lifecycle state of the shard",
		},
		[]string{"cluster_id", "shard_id"},
	),
	ReadyShards: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_ready_shards",
			Help: "Number of shards in the Ready state",
		},
		[]string{"cluster_id"},
	),
}

func UpdateClusterStatus(clusterID string, status ClusterStatus) {
	ShardMetrics.ClusterStatus.WithLabelValues(clusterID).Set(float64(status))
}

func UpdateShardState(clusterID string, shardID int32, state ShardState) {
	ShardMetrics.ShardState.WithLabelValues(clusterID, strconv.Itoa(int(shardID))).Set(float64(state))
}

// RequestMetrics tracks the request correlator.
var RequestMetrics = struct {
	Pending  *prometheus.GaugeVec
	Timeouts *prometheus.CounterVec
}{
	Pending: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_pending_requests",
			Help: "Requests awaiting a correlated reply",
		},
		[]string{"cluster_id"},
	),
	Timeouts: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearbox_request_timeouts_total",
			Help: "Requests whose reply did not arrive in time",
		},
		[]string{"cluster_id"},
	),
}

// ColdResumeMetrics tracks snapshot persistence.
var ColdResumeMetrics = struct {
	LastTimestamp *prometheus.GaugeVec
	LastOutcome   *prometheus.GaugeVec
	SnapshotBytes *prometheus.GaugeVec
}{
	LastTimestamp: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_cold_resume_last_timestamp_seconds",
			Help: "Unix time of the last cold resume save or restore attempt",
		},
		[]string{"cluster_id"},
	),
	LastOutcome: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_cold_resume_last_outcome",
			Help: "Outcome of the last cold resume attempt",
		},
		[]string{"cluster_id"},
	),
	SnapshotBytes: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_cold_resume_snapshot_bytes",
			Help: "Compressed size of the last snapshot written or read",
		},
		[]string{"cluster_id"},
	),
}

// StateMetrics tracks cache sizes.
var StateMetrics = struct {
	Guilds       *prometheus.GaugeVec
	Roles        *prometheus.GaugeVec
	Members      *prometheus.GaugeVec
	Users        *prometheus.GaugeVec
	LoadingGuild *prometheus.GaugeVec
}{
	Guilds: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_state_guilds",
			Help: "Total number of guilds in state",
		},
		[]string{"cluster_id"},
	),
	Roles: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_state_roles",
			Help: "Total number of roles in state",
		},
		[]string{"cluster_id"},
	),
	Members: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_state_members",
			Help: "Total number of guild members in state",
		},
		[]string{"cluster_id"},
	),
	Users: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_state_users",
			Help: "Total number of users in state",
		},
		[]string{"cluster_id"},
	),
	LoadingGuild: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gearbox_state_loading_guilds",
			Help: "Guilds whose member snapshot is still arriving",
		},
		[]string{"cluster_id"},
	),
}

// MessageMetrics mirrors the bot message statistics.
var MessageMetrics = struct {
	Messages *prometheus.CounterVec
}{
	Messages: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearbox_messages_total",
			Help: "Messages seen, split by author kind",
		},
		[]string{"cluster_id", "author"},
	),
}

func RecordMessage(clusterID, author string) {
	MessageMetrics.Messages.WithLabelValues(clusterID, author).Inc()
}

func UpdateStateMetrics(clusterID string, counts CacheCounts) {
	StateMetrics.Guilds.WithLabelValues(clusterID).Set(float64(counts.Guilds))
	StateMetrics.Roles.WithLabelValues(clusterID).Set(float64(counts.Roles))
	StateMetrics.Members.WithLabelValues(clusterID).Set(float64(counts.Members))
	StateMetrics.Users.WithLabelValues(clusterID).Set(float64(counts.Users))
}
