package gearbox

import "fmt"

// ShardState is the lifecycle state of a single shard.
//
//	PendingCreation -> Connecting -> Identifying -> Connected -> Ready
//	                              -> Resuming    -> Connected -> Ready
//
// Any state may move to Reconnecting or Disconnected on a transport signal.
type ShardState int32

const (
	ShardStatePendingCreation ShardState = iota
	ShardStateConnecting
	ShardStateIdentifying
	ShardStateConnected
	ShardStateResuming
	ShardStateReady
	ShardStateReconnecting
	ShardStateDisconnected
)

var shardStateNames = [...]string{
	"PendingCreation",
	"Connecting",
	"Identifying",
	"Connected",
	"Resuming",
	"Ready",
	"Reconnecting",
	"Disconnected",
}

func (state ShardState) String() string {
	if state < 0 || int(state) >= len(shardStateNames) {
		return fmt.Sprintf("ShardState(%d)", int32(state))
	}

	return shardStateNames[state]
}

// IsSteady reports whether monitoring should treat the state as settled.
func (state ShardState) IsSteady() bool {
	return state == ShardStateReady || state == ShardStateDisconnected
}

func (state ShardState) MarshalText() ([]byte, error) {
	return []byte(state.String()), nil
}

// ClusterStatus is the lifecycle state of the process-wide cluster.
type ClusterStatus int32

const (
	ClusterStatusIdle ClusterStatus = iota
	ClusterStatusFailed
	ClusterStatusRestoring
	ClusterStatusConnecting
	ClusterStatusReady
	ClusterStatusQuiescing
	ClusterStatusStopping
	ClusterStatusStopped
)

func (status ClusterStatus) String() string {
	return []string{
		"Idle",
		"Failed",
		"Restoring",
		"Connecting",
		"Ready",
		"Quiescing",
		"Stopping",
		"Stopped",
	}[status]
}

func (status ClusterStatus) MarshalText() ([]byte, error) {
	return []byte(status.String()), nil
}

// ColdResumeOutcome records how the last cold-resume attempt ended.
type ColdResumeOutcome int32

const (
	ColdResumeNone ColdResumeOutcome = iota
	ColdResumeRestored
	ColdResumeMissing
	ColdResumeExpired
	ColdResumeCorrupt
	ColdResumeStoreError
	ColdResumeSaved
	ColdResumeSaveFailed
)

func (outcome ColdResumeOutcome) String() string {
	return []string{
		"None",
		"Restored",
		"Missing",
		"Expired",
		"Corrupt",
		"StoreError",
		"Saved",
		"SaveFailed",
	}[outcome]
}

func (outcome ColdResumeOutcome) MarshalText() ([]byte, error) {
	return []byte(outcome.String()), nil
}

// Success reports whether the outcome left the cluster on the fast path.
func (outcome ColdResumeOutcome) Success() bool {
	return outcome == ColdResumeRestored || outcome == ColdResumeSaved
}
