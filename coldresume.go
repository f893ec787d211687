package gearbox

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack"
	"go.uber.org/atomic"
)

// SnapshotVersion is bumped only for changes old readers cannot tolerate.
// Added fields keep the version: missing tags decode to zero values and
// unknown tags are skipped.
const SnapshotVersion = 1

// ResumeInfo is what a shard needs to resume its gateway session.
type ResumeInfo struct {
	ShardID          int32  `msgpack:"a" json:"shard_id"`
	ResumeGatewayURL string `msgpack:"b" json:"resume_gateway_url"`
	SessionID        string `msgpack:"c" json:"session_id"`
	Sequence         int32  `msgpack:"d" json:"sequence"`
}

// Resumable reports whether the triple can be used for RESUME.
func (r ResumeInfo) Resumable() bool {
	return r.SessionID != "" && r.Sequence > 0
}

type EntityKind uint8

const (
	EntityKindGuild EntityKind = iota + 1
	EntityKindRole
	EntityKindChannel
	EntityKindUser
	EntityKindMember
)

// SnapshotEntity is one cached entity tagged by kind.
type SnapshotEntity struct {
	Kind      EntityKind        `msgpack:"k"`
	GuildID   discord.Snowflake `msgpack:"i,omitempty"`
	Complete  bool              `msgpack:"o,omitempty"`
	ChannelID discord.Snowflake `msgpack:"h,omitempty"`
	Guild     *CachedGuild      `msgpack:"g,omitempty"`
	Role      *CachedRole       `msgpack:"r,omitempty"`
	User      *CachedUser       `msgpack:"u,omitempty"`
	Member    *CachedMember     `msgpack:"m,omitempty"`
}

// ColdResumeSnapshot is the persisted state of a cluster.
type ColdResumeSnapshot struct {
	Version    int              `msgpack:"v"`
	ClusterID  string           `msgpack:"c"`
	ShardCount int32            `msgpack:"n"`
	WrittenAt  int64            `msgpack:"w"`
	ExpiresAt  int64            `msgpack:"x"`
	Shards     []ResumeInfo     `msgpack:"s"`
	Entities   []SnapshotEntity `msgpack:"e"`
}

// CaptureSnapshot enumerates the cache. Callers must have stopped ingestion.
func CaptureSnapshot(cache *Cache, tracker *CompletenessTracker, shards []ResumeInfo) *ColdResumeSnapshot {
	snapshot := &ColdResumeSnapshot{
		Version: SnapshotVersion,
		Shards:  slices.Clone(shards),
	}

	slices.SortFunc(snapshot.Shards, func(a, b ResumeInfo) int {
		return cmp.Compare(a.ShardID, b.ShardID)
	})

	var guilds []*CachedGuild

	cache.RangeGuilds(func(guild *CachedGuild) bool {
		guilds = append(guilds, guild)

		return true
	})

	slices.SortFunc(guilds, func(a, b *CachedGuild) int {
		return cmp.Compare(a.ID, b.ID)
	})

	for _, guild := range guilds {
		snapshot.Entities = append(snapshot.Entities, SnapshotEntity{
			Kind:     EntityKindGuild,
			GuildID:  guild.ID,
			Complete: tracker.IsComplete(guild.ID),
			Guild:    guild,
		})

		roles, _ := cache.GetRoles(guild.ID)
		for _, role := range roles {
			snapshot.Entities = append(snapshot.Entities, SnapshotEntity{Kind: EntityKindRole, GuildID: guild.ID, Role: role})
		}

		for _, channelID := range cache.ChannelIDs(guild.ID) {
			snapshot.Entities = append(snapshot.Entities, SnapshotEntity{Kind: EntityKindChannel, GuildID: guild.ID, ChannelID: channelID})
		}

		members, _ := cache.GetMembers(guild.ID)
		for _, member := range members {
			snapshot.Entities = append(snapshot.Entities, SnapshotEntity{Kind: EntityKindMember, GuildID: guild.ID, Member: member})
		}
	}

	cache.RangeUsers(func(user *CachedUser) bool {
		snapshot.Entities = append(snapshot.Entities, SnapshotEntity{Kind: EntityKindUser, User: user})

		return true
	})

	return snapshot
}

// Apply populates the cache and seeds the tracker. Guilds the snapshot marks
// complete are complete immediately; the rest start loading. Guilds on shards
// the tracker does not own are skipped along with their roles, channels and
// members.
func (s *ColdResumeSnapshot) Apply(cache *Cache, tracker *CompletenessTracker) {
	skipped := make(map[discord.Snowflake]struct{})

	for i := range s.Entities {
		entity := &s.Entities[i]

		if entity.Kind == EntityKindGuild && entity.Guild != nil && !tracker.Owns(entity.Guild.ShardID) {
			skipped[entity.Guild.ID] = struct{}{}
		}
	}

	for i := range s.Entities {
		entity := &s.Entities[i]

		if entity.Kind != EntityKindUser {
			if _, ok := skipped[entity.GuildID]; ok {
				continue
			}
		}

		switch entity.Kind {
		case EntityKindGuild:
			if entity.Guild == nil {
				continue
			}

			cache.StoreGuild(entity.Guild)
			tracker.Seed(entity.Guild.ShardID, entity.Guild.ID, entity.Complete)
		case EntityKindRole:
			if entity.Role != nil {
				cache.SetRole(entity.GuildID, entity.Role)
			}
		case EntityKindChannel:
			cache.AddChannel(entity.GuildID, entity.ChannelID)
		case EntityKindUser:
			if entity.User != nil {
				cache.SetUser(entity.User)
			}
		case EntityKindMember:
			if entity.Member != nil {
				cache.SetMember(entity.GuildID, entity.Member)
			}
		}
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(err)
	}

	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic(err)
	}
}

func EncodeSnapshot(snapshot *ColdResumeSnapshot) ([]byte, error) {
	data, err := msgpack.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return zstdEncoder.EncodeAll(data, nil), nil
}

func DecodeSnapshot(data []byte) (*ColdResumeSnapshot, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}

	var snapshot ColdResumeSnapshot

	err = msgpack.Unmarshal(raw, &snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}

	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}

// ColdResumeManager writes snapshots on shutdown and reads them on startup.
// Read failures are never fatal; they only mean a cold identify.
type ColdResumeManager struct {
	logger *slog.Logger
	store  ColdResumeStore

	clusterID  string
	shardCount int32
	ttl        time.Duration

	now func() time.Time

	lastAttempt *atomic.Time
	lastOutcome *atomic.Int32
}

// NewColdResumeManager creates a manager for the cluster. Snapshots written
// under a different shard count are discarded on restore.
func NewColdResumeManager(logger *slog.Logger, store ColdResumeStore, clusterID string, shardCount int32, ttl time.Duration) *ColdResumeManager {
	return &ColdResumeManager{
		logger:      logger.With("component", "cold_resume"),
		store:       store,
		clusterID:   clusterID,
		shardCount:  shardCount,
		ttl:         ttl,
		now:         time.Now,
		lastAttempt: atomic.NewTime(time.Time{}),
		lastOutcome: atomic.NewInt32(int32(ColdResumeNone)),
	}
}

func (m *ColdResumeManager) record(outcome ColdResumeOutcome, size int) {
	now := m.now()

	m.lastAttempt.Store(now)
	m.lastOutcome.Store(int32(outcome))

	ColdResumeMetrics.LastTimestamp.WithLabelValues(m.clusterID).Set(float64(now.Unix()))
	ColdResumeMetrics.LastOutcome.WithLabelValues(m.clusterID).Set(float64(outcome))

	if size > 0 {
		ColdResumeMetrics.SnapshotBytes.WithLabelValues(m.clusterID).Set(float64(size))
	}
}

// Last returns when the last save or restore happened and how it ended.
func (m *ColdResumeManager) Last() (time.Time, ColdResumeOutcome) {
	return m.lastAttempt.Load(), ColdResumeOutcome(m.lastOutcome.Load())
}

// Save stamps and writes the snapshot in one store operation.
func (m *ColdResumeManager) Save(ctx context.Context, snapshot *ColdResumeSnapshot) error {
	now := m.now()

	snapshot.ClusterID = m.clusterID
	snapshot.ShardCount = m.shardCount
	snapshot.WrittenAt = now.UnixMilli()
	snapshot.ExpiresAt = now.Add(m.ttl).UnixMilli()

	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		m.record(ColdResumeSaveFailed, 0)

		return err
	}

	err = m.store.Save(ctx, m.clusterID, data, m.ttl)
	if err != nil {
		m.record(ColdResumeSaveFailed, 0)

		return err
	}

	m.record(ColdResumeSaved, len(data))

	m.logger.Info("Saved cold resume snapshot",
		"shards", len(snapshot.Shards),
		"entities", len(snapshot.Entities),
		"bytes", len(data),
	)

	return nil
}

// Restore loads and consumes the snapshot for this cluster. A nil snapshot
// means the caller must identify from scratch.
func (m *ColdResumeManager) Restore(ctx context.Context) (*ColdResumeSnapshot, ColdResumeOutcome) {
	data, err := m.store.Load(ctx, m.clusterID)
	if err != nil {
		if errors.Is(err, ErrSnapshotMissing) {
			m.logger.Info("No cold resume snapshot found")
			m.record(ColdResumeMissing, 0)

			return nil, ColdResumeMissing
		}

		m.logger.Error("Failed to load cold resume snapshot", "error", err)
		m.record(ColdResumeStoreError, 0)

		return nil, ColdResumeStoreError
	}

	// A snapshot is single use. Sessions resumed from it move on immediately.
	if err := m.store.Delete(ctx, m.clusterID); err != nil {
		m.logger.Warn("Failed to delete consumed cold resume snapshot", "error", err)
	}

	snapshot, err := DecodeSnapshot(data)
	if err != nil {
		m.logger.Error("Discarding unreadable cold resume snapshot", "error", err, "bytes", len(data))
		m.record(ColdResumeCorrupt, len(data))

		return nil, ColdResumeCorrupt
	}

	if snapshot.ClusterID != m.clusterID {
		m.logger.Error("Discarding cold resume snapshot for another cluster", "snapshot_cluster_id", snapshot.ClusterID)
		m.record(ColdResumeCorrupt, len(data))

		return nil, ColdResumeCorrupt
	}

	// Sessions identified under another shard count cannot be resumed, and the
	// guild to shard mapping of the cached entities no longer holds.
	if snapshot.ShardCount != m.shardCount {
		m.logger.Error("Discarding cold resume snapshot for another shard count",
			"snapshot_shard_count", snapshot.ShardCount,
			"shard_count", m.shardCount,
		)
		m.record(ColdResumeCorrupt, len(data))

		return nil, ColdResumeCorrupt
	}

	if m.now().UnixMilli() >= snapshot.ExpiresAt {
		m.logger.Warn("Discarding expired cold resume snapshot", "expired_at", time.UnixMilli(snapshot.ExpiresAt))
		m.record(ColdResumeExpired, len(data))

		return nil, ColdResumeExpired
	}

	m.record(ColdResumeRestored, len(data))

	m.logger.Info("Restored cold resume snapshot",
		"shards", len(snapshot.Shards),
		"entities", len(snapshot.Entities),
		"age", m.now().Sub(time.UnixMilli(snapshot.WrittenAt)),
	)

	return snapshot, ColdResumeRestored
}
