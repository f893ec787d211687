package gearbox

import (
	"github.com/WelcomerTeam/Gearbox/discord"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"go.uber.org/atomic"
)

// guildLoad is the load state of one availability period of a guild.
// A fresh GUILD_CREATE replaces the whole value, so the flags below only ever
// move forward.
type guildLoad struct {
	shardID int32

	// missing is the number of members expected but not yet observed.
	// A negative value marks an unknown total: only the marker completes the guild.
	missing    *atomic.Int64
	markerSeen *atomic.Bool
	complete   *atomic.Bool
}

type shardLoad struct {
	pendingGuilds  *atomic.Int64
	missingMembers *atomic.Int64
}

// CompletenessTracker decides per guild whether the cached view is safe to use.
type CompletenessTracker struct {
	clusterID string

	guilds *csmap.CsMap[discord.Snowflake, *guildLoad]

	// shards is built once and never written afterwards.
	shards map[int32]*shardLoad

	onComplete func(shardID int32, guildID discord.Snowflake)
}

func NewCompletenessTracker(clusterID string, shardIDs []int32) *CompletenessTracker {
	shards := make(map[int32]*shardLoad, len(shardIDs))

	for _, shardID := range shardIDs {
		shards[shardID] = &shardLoad{
			pendingGuilds:  atomic.NewInt64(0),
			missingMembers: atomic.NewInt64(0),
		}
	}

	return &CompletenessTracker{
		clusterID: clusterID,
		guilds:    csmap.Create[discord.Snowflake, *guildLoad](),
		shards:    shards,
	}
}

// Owns reports whether the shard was given to the tracker.
func (t *CompletenessTracker) Owns(shardID int32) bool {
	_, ok := t.shards[shardID]

	return ok
}

// OnComplete registers a callback run once when a guild becomes complete.
// It must be set before events are processed.
func (t *CompletenessTracker) OnComplete(f func(shardID int32, guildID discord.Snowflake)) {
	t.onComplete = f
}

// ExpectGuilds records guilds announced by READY that have not been created yet.
func (t *CompletenessTracker) ExpectGuilds(shardID int32, count int) {
	if shard, ok := t.shards[shardID]; ok {
		shard.pendingGuilds.Store(int64(count))
	}
}

// Begin starts a new availability period for the guild. Any previous load
// state is discarded. expected < 0 means the total is unknown.
func (t *CompletenessTracker) Begin(shardID int32, guildID discord.Snowflake, expected int64) {
	load := &guildLoad{
		shardID:    shardID,
		missing:    atomic.NewInt64(expected),
		markerSeen: atomic.NewBool(false),
		complete:   atomic.NewBool(false),
	}

	previous, replaced := t.guilds.Load(guildID)
	t.guilds.Store(guildID, load)

	if replaced {
		t.release(previous)
	}

	if shard, ok := t.shards[shardID]; ok {
		if shard.pendingGuilds.Load() > 0 {
			shard.pendingGuilds.Dec()
		}

		if expected > 0 {
			shard.missingMembers.Add(expected)
		}
	}

	StateMetrics.LoadingGuild.WithLabelValues(t.clusterID).Inc()
}

// release returns a discarded load's outstanding counts to its shard.
func (t *CompletenessTracker) release(load *guildLoad) {
	if !load.complete.Load() {
		StateMetrics.LoadingGuild.WithLabelValues(t.clusterID).Dec()
	}

	if remaining := load.missing.Swap(0); remaining > 0 {
		if shard, ok := t.shards[load.shardID]; ok {
			shard.missingMembers.Sub(remaining)
		}
	}
}

// Arrived records n observed members for the guild and returns how many are still missing.
// Arrivals for a guild that is unknown, complete, or has an unknown total are ignored.
func (t *CompletenessTracker) Arrived(guildID discord.Snowflake, n int64) int64 {
	load, ok := t.guilds.Load(guildID)
	if !ok || n <= 0 {
		return 0
	}

	for {
		current := load.missing.Load()
		if current <= 0 {
			return 0
		}

		next := current - n
		if next < 0 {
			next = 0
		}

		if load.missing.CAS(current, next) {
			if shard, ok := t.shards[load.shardID]; ok {
				shard.missingMembers.Sub(current - next)
			}

			t.promote(guildID, load)

			return next
		}
	}
}

// Settle clears whatever is still missing. Used when the last chunk of a
// request arrives, since members may have left while it was in flight.
func (t *CompletenessTracker) Settle(guildID discord.Snowflake) {
	load, ok := t.guilds.Load(guildID)
	if !ok {
		return
	}

	if remaining := load.missing.Swap(0); remaining > 0 {
		if shard, ok := t.shards[load.shardID]; ok {
			shard.missingMembers.Sub(remaining)
		}
	}

	t.promote(guildID, load)
}

// MarkSnapshotDone records that the initial snapshot marker has been seen.
func (t *CompletenessTracker) MarkSnapshotDone(guildID discord.Snowflake) {
	load, ok := t.guilds.Load(guildID)
	if !ok {
		return
	}

	load.markerSeen.Store(true)

	if load.missing.Load() < 0 {
		load.missing.Store(0)
	}

	t.promote(guildID, load)
}

func (t *CompletenessTracker) promote(guildID discord.Snowflake, load *guildLoad) {
	if !load.markerSeen.Load() || load.missing.Load() > 0 {
		return
	}

	if !load.complete.CAS(false, true) {
		return
	}

	StateMetrics.LoadingGuild.WithLabelValues(t.clusterID).Dec()

	if t.onComplete != nil {
		t.onComplete(load.shardID, guildID)
	}
}

// Seed installs a load state restored from a snapshot.
func (t *CompletenessTracker) Seed(shardID int32, guildID discord.Snowflake, complete bool) {
	if complete {
		t.guilds.Store(guildID, &guildLoad{
			shardID:    shardID,
			missing:    atomic.NewInt64(0),
			markerSeen: atomic.NewBool(true),
			complete:   atomic.NewBool(true),
		})

		return
	}

	t.Begin(shardID, guildID, -1)
}

// Forget drops the guild, for example when it becomes unavailable.
func (t *CompletenessTracker) Forget(guildID discord.Snowflake) {
	load, ok := t.guilds.Load(guildID)
	if !ok {
		return
	}

	t.guilds.Delete(guildID)
	t.release(load)
}

func (t *CompletenessTracker) IsComplete(guildID discord.Snowflake) bool {
	load, ok := t.guilds.Load(guildID)

	return ok && load.complete.Load()
}

// Missing returns the outstanding member count for the guild.
func (t *CompletenessTracker) Missing(guildID discord.Snowflake) int64 {
	load, ok := t.guilds.Load(guildID)
	if !ok {
		return 0
	}

	return load.missing.Load()
}

// ShardMissing returns the outstanding member count summed over the shard's guilds.
func (t *CompletenessTracker) ShardMissing(shardID int32) int64 {
	shard, ok := t.shards[shardID]
	if !ok {
		return 0
	}

	return shard.missingMembers.Load()
}

// ShardPendingGuilds returns guilds announced by READY that have not arrived.
func (t *CompletenessTracker) ShardPendingGuilds(shardID int32) int64 {
	shard, ok := t.shards[shardID]
	if !ok {
		return 0
	}

	return shard.pendingGuilds.Load()
}

// Incomplete returns the guilds owned by the shard that are still loading.
func (t *CompletenessTracker) Incomplete(shardID int32) []discord.Snowflake {
	var guildIDs []discord.Snowflake

	t.guilds.Range(func(guildID discord.Snowflake, load *guildLoad) bool {
		if load.shardID == shardID && !load.complete.Load() {
			guildIDs = append(guildIDs, guildID)
		}

		return false
	})

	return guildIDs
}
