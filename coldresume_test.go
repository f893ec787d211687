package gearbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func populatedCache(t *testing.T, clusterID string) (*Cache, *CompletenessTracker) {
	t.Helper()

	cache := NewCache()
	tracker := NewCompletenessTracker(clusterID, []int32{0, 1})

	cache.SetGuild(0, testGuild(100))
	tracker.Begin(0, 100, 0)
	tracker.MarkSnapshotDone(100)

	cache.SetGuild(1, testGuild(201))
	tracker.Begin(1, 201, 40)
	tracker.MarkSnapshotDone(201)

	return cache, tracker
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	cache, tracker := populatedCache(t, "snapshot-roundtrip")

	shards := []ResumeInfo{
		{ShardID: 1, ResumeGatewayURL: "wss://resume.example", SessionID: "session-1", Sequence: 99},
		{ShardID: 0, ResumeGatewayURL: "wss://resume.example", SessionID: "session-0", Sequence: 42},
	}

	data, err := EncodeSnapshot(CaptureSnapshot(cache, tracker, shards))
	require.NoError(t, err)

	snapshot, err := DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, []ResumeInfo{shards[1], shards[0]}, snapshot.Shards)

	restored := NewCache()
	restoredTracker := NewCompletenessTracker("snapshot-roundtrip-restored", []int32{0, 1})
	snapshot.Apply(restored, restoredTracker)

	for _, guildID := range []discord.Snowflake{100, 201} {
		original, ok := cache.GetGuild(guildID)
		require.True(t, ok)

		got, ok := restored.GetGuild(guildID)
		require.True(t, ok)
		assert.Equal(t, original, got)

		assert.ElementsMatch(t, cache.RoleIDs(guildID), restored.RoleIDs(guildID))
		assert.ElementsMatch(t, cache.ChannelIDs(guildID), restored.ChannelIDs(guildID))
		assert.ElementsMatch(t, cache.MemberIDs(guildID), restored.MemberIDs(guildID))

		for _, roleID := range cache.RoleIDs(guildID) {
			want, _ := cache.GetRole(guildID, roleID)
			have, _ := restored.GetRole(guildID, roleID)
			assert.Equal(t, want, have)
		}

		for _, userID := range cache.MemberIDs(guildID) {
			want, _ := cache.GetMember(guildID, userID)
			have, _ := restored.GetMember(guildID, userID)
			assert.Equal(t, want, have)
		}
	}

	user, ok := restored.GetUser(10)
	require.True(t, ok)
	assert.Equal(t, "owner", user.Username)

	assert.True(t, restoredTracker.IsComplete(100))
	assert.False(t, restoredTracker.IsComplete(201))
	assert.Equal(t, []discord.Snowflake{201}, restoredTracker.Incomplete(1))
}

func TestSnapshotApplySkipsUnownedShards(t *testing.T) {
	t.Parallel()

	cache, tracker := populatedCache(t, "snapshot-unowned")
	snapshot := CaptureSnapshot(cache, tracker, nil)

	restored := NewCache()
	restoredTracker := NewCompletenessTracker("snapshot-unowned-restored", []int32{0})
	snapshot.Apply(restored, restoredTracker)

	_, ok := restored.GetGuild(100)
	assert.True(t, ok)
	assert.True(t, restoredTracker.IsComplete(100))

	_, ok = restored.GetGuild(201)
	assert.False(t, ok, "guild on a shard this cluster no longer owns")
	assert.False(t, restoredTracker.IsComplete(201))
	assert.Empty(t, restored.RoleIDs(201))
	assert.Empty(t, restored.ChannelIDs(201))
	assert.Empty(t, restored.MemberIDs(201))
	assert.Empty(t, restoredTracker.Incomplete(1))

	_, ok = restored.GetUser(10)
	assert.True(t, ok, "users are not guild scoped")
}

func TestDecodeSnapshotCorrupt(t *testing.T) {
	t.Parallel()

	_, err := DecodeSnapshot([]byte("definitely not a snapshot"))
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
}

func TestDecodeSnapshotVersionMismatch(t *testing.T) {
	t.Parallel()

	data, err := EncodeSnapshot(&ColdResumeSnapshot{Version: SnapshotVersion + 1})
	require.NoError(t, err)

	_, err = DecodeSnapshot(data)
	assert.ErrorIs(t, err, ErrSnapshotVersion)
}

func TestDecodeSnapshotToleratesUnknownAndMissingFields(t *testing.T) {
	t.Parallel()

	raw, err := msgpack.Marshal(map[string]any{
		"v": SnapshotVersion,
		"c": "cluster",
		"z": "a field from a newer writer",
		"e": []map[string]any{
			{"k": EntityKindRole, "i": 5, "r": map[string]any{"a": 7, "b": "Muted", "q": true}},
		},
	})
	require.NoError(t, err)

	snapshot, err := DecodeSnapshot(zstdEncoder.EncodeAll(raw, nil))
	require.NoError(t, err)

	require.Len(t, snapshot.Entities, 1)
	assert.Equal(t, &CachedRole{ID: 7, Name: "Muted"}, snapshot.Entities[0].Role)
	assert.Empty(t, snapshot.Shards)
}

func newRedisStore(t *testing.T) (*RedisColdResumeStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return NewRedisColdResumeStore(client), server
}

func TestRedisColdResumeStore(t *testing.T) {
	t.Parallel()

	store, server := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "cluster")
	require.ErrorIs(t, err, ErrSnapshotMissing)

	require.NoError(t, store.Save(ctx, "cluster", []byte("payload"), time.Minute))
	assert.Equal(t, time.Minute, server.TTL(redisColdResumePrefix+"cluster"))

	data, err := store.Load(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	server.FastForward(2 * time.Minute)

	_, err = store.Load(ctx, "cluster")
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestFileColdResumeStore(t *testing.T) {
	t.Parallel()

	store := NewFileColdResumeStore(t.TempDir())
	ctx := context.Background()

	_, err := store.Load(ctx, "cluster")
	require.ErrorIs(t, err, ErrSnapshotMissing)

	require.NoError(t, store.Save(ctx, "cluster", []byte("one"), time.Minute))
	require.NoError(t, store.Save(ctx, "cluster", []byte("two"), time.Minute))

	data, err := store.Load(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	require.NoError(t, store.Delete(ctx, "cluster"))
	require.NoError(t, store.Delete(ctx, "cluster"))

	_, err = store.Load(ctx, "cluster")
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestColdResumeManagerSaveRestore(t *testing.T) {
	t.Parallel()

	store, _ := newRedisStore(t)
	manager := NewColdResumeManager(discardLogger(), store, "manager-save", 2, time.Minute)
	ctx := context.Background()

	cache, tracker := populatedCache(t, "manager-save-source")
	shards := []ResumeInfo{{ShardID: 0, SessionID: "session", Sequence: 3}}

	require.NoError(t, manager.Save(ctx, CaptureSnapshot(cache, tracker, shards)))

	_, outcome := manager.Last()
	assert.Equal(t, ColdResumeSaved, outcome)

	snapshot, outcome := manager.Restore(ctx)
	require.Equal(t, ColdResumeRestored, outcome)
	assert.Equal(t, shards, snapshot.Shards)

	// Consumed on read.
	snapshot, outcome = manager.Restore(ctx)
	assert.Nil(t, snapshot)
	assert.Equal(t, ColdResumeMissing, outcome)
}

func TestColdResumeManagerCorrupt(t *testing.T) {
	t.Parallel()

	store, _ := newRedisStore(t)
	manager := NewColdResumeManager(discardLogger(), store, "manager-corrupt", 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "manager-corrupt", []byte{0x28, 0xb5, 0x2f, 0xfd, 0xff}, time.Minute))

	snapshot, outcome := manager.Restore(ctx)
	assert.Nil(t, snapshot)
	assert.Equal(t, ColdResumeCorrupt, outcome)

	_, err := store.Load(ctx, "manager-corrupt")
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestColdResumeManagerExpired(t *testing.T) {
	t.Parallel()

	store := NewFileColdResumeStore(t.TempDir())
	manager := NewColdResumeManager(discardLogger(), store, "manager-expired", 2, time.Minute)
	ctx := context.Background()

	start := time.Now()
	manager.now = func() time.Time { return start }

	require.NoError(t, manager.Save(ctx, &ColdResumeSnapshot{Version: SnapshotVersion}))

	manager.now = func() time.Time { return start.Add(2 * time.Minute) }

	snapshot, outcome := manager.Restore(ctx)
	assert.Nil(t, snapshot)
	assert.Equal(t, ColdResumeExpired, outcome)
}

func TestColdResumeManagerOtherCluster(t *testing.T) {
	t.Parallel()

	store := NewFileColdResumeStore(t.TempDir())
	ctx := context.Background()

	data, err := EncodeSnapshot(&ColdResumeSnapshot{
		Version:   SnapshotVersion,
		ClusterID: "someone-else",
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "manager-other", data, time.Minute))

	manager := NewColdResumeManager(discardLogger(), store, "manager-other", 2, time.Minute)

	snapshot, outcome := manager.Restore(ctx)
	assert.Nil(t, snapshot)
	assert.Equal(t, ColdResumeCorrupt, outcome)
}

func TestColdResumeManagerShardCountChanged(t *testing.T) {
	t.Parallel()

	store := NewFileColdResumeStore(t.TempDir())
	ctx := context.Background()

	cache, tracker := populatedCache(t, "manager-resharded-source")
	shards := []ResumeInfo{{ShardID: 0, SessionID: "session", Sequence: 3}}

	writer := NewColdResumeManager(discardLogger(), store, "manager-resharded", 2, time.Minute)
	require.NoError(t, writer.Save(ctx, CaptureSnapshot(cache, tracker, shards)))

	reader := NewColdResumeManager(discardLogger(), store, "manager-resharded", 4, time.Minute)

	snapshot, outcome := reader.Restore(ctx)
	assert.Nil(t, snapshot)
	assert.Equal(t, ColdResumeCorrupt, outcome)

	_, err := store.Load(ctx, "manager-resharded")
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}
