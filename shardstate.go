package gearbox

import (
	"fmt"
	"slices"

	"go.uber.org/atomic"
)

// ShardStateTable is the source of truth for whether a shard is usable.
// Every owned shard is registered at construction and the set never changes.
type ShardStateTable struct {
	clusterID string

	states   map[int32]*atomic.Int32
	shardIDs []int32

	ready *atomic.Int32

	onTransition func(shardID int32, from, to ShardState)
}

func NewShardStateTable(clusterID string, shardIDs []int32) *ShardStateTable {
	table := &ShardStateTable{
		clusterID: clusterID,
		states:    make(map[int32]*atomic.Int32, len(shardIDs)),
		shardIDs:  slices.Clone(shardIDs),
		ready:     atomic.NewInt32(0),
	}

	slices.Sort(table.shardIDs)
	table.shardIDs = slices.Compact(table.shardIDs)

	for _, shardID := range table.shardIDs {
		table.states[shardID] = atomic.NewInt32(int32(ShardStatePendingCreation))
		UpdateShardState(clusterID, shardID, ShardStatePendingCreation)
	}

	ShardMetrics.ReadyShards.WithLabelValues(clusterID).Set(0)

	return table
}

// OnTransition registers a hook run after every state change.
// It must be set before any shard starts.
func (t *ShardStateTable) OnTransition(f func(shardID int32, from, to ShardState)) {
	t.onTransition = f
}

// SetState moves the shard to state. Setting the current state again is a no-op.
func (t *ShardStateTable) SetState(shardID int32, state ShardState) error {
	current, ok := t.states[shardID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
	}

	previous := ShardState(current.Swap(int32(state)))
	if previous == state {
		return nil
	}

	switch {
	case state == ShardStateReady:
		t.ready.Inc()
	case previous == ShardStateReady:
		t.ready.Dec()
	}

	UpdateShardState(t.clusterID, shardID, state)
	ShardMetrics.ReadyShards.WithLabelValues(t.clusterID).Set(float64(t.ready.Load()))

	if t.onTransition != nil {
		t.onTransition(shardID, previous, state)
	}

	return nil
}

func (t *ShardStateTable) GetState(shardID int32) (ShardState, error) {
	current, ok := t.states[shardID]
	if !ok {
		return ShardStatePendingCreation, fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
	}

	return ShardState(current.Load()), nil
}

// Owns reports whether the shard belongs to this cluster.
func (t *ShardStateTable) Owns(shardID int32) bool {
	_, ok := t.states[shardID]

	return ok
}

// ShardIDs returns the owned shards in ascending order.
func (t *ShardStateTable) ShardIDs() []int32 {
	return slices.Clone(t.shardIDs)
}

func (t *ShardStateTable) ReadyCount() int32 {
	return t.ready.Load()
}

// States returns every owned shard's current state.
func (t *ShardStateTable) States() map[int32]ShardState {
	states := make(map[int32]ShardState, len(t.states))

	for shardID, state := range t.states {
		states[shardID] = ShardState(state.Load())
	}

	return states
}
