package gearbox

import "errors"

var (
	ErrConfigMissingToken     = errors.New("config missing token")
	ErrConfigMissingClusterID = errors.New("config missing cluster identifier")
	ErrConfigInvalidShards    = errors.New("config has invalid shard layout")
	ErrConfigInvalid          = errors.New("config invalid")

	ErrClusterMissingShards = errors.New("cluster owns no shards")

	ErrUnknownShard = errors.New("shard is not owned by this cluster")

	ErrShardConnectFailed            = errors.New("shard connect failed")
	ErrShardInvalidHeartbeatInterval = errors.New("shard invalid heartbeat interval")
	ErrShardStopping                 = errors.New("shard stopping")
	ErrShardNotConnected             = errors.New("shard not connected")
	ErrIdentifyRejected              = errors.New("identify rejected by coordinator")

	// ErrInvalidSession is returned when the gateway invalidates a session that
	// cannot be resumed. The shard task stops and a full identify is required.
	ErrInvalidSession = errors.New("session invalidated and not resumable")

	ErrDuplicateNonce = errors.New("nonce already has a pending request")
	ErrChunkTimeout   = errors.New("timed out waiting for member chunk")

	ErrSnapshotMissing = errors.New("cold resume snapshot missing")
	ErrSnapshotExpired = errors.New("cold resume snapshot expired")
	ErrSnapshotVersion = errors.New("cold resume snapshot has incompatible version")
	ErrSnapshotCorrupt = errors.New("cold resume snapshot corrupt")

	ErrQuiesceTimeout = errors.New("timed out waiting for in-flight events")
	ErrGateClosed     = errors.New("event ingestion closed")

	ErrNoDispatchHandler = errors.New("no dispatch handler found")
)
