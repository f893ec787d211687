package gearbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/pkg/accumulator"
	"github.com/WelcomerTeam/Gearbox/pkg/syncmap"
	"github.com/coder/websocket"
	"go.uber.org/atomic"
)

var Version = "1.0.0"

var (
	// How long Start waits for the first shard to become ready.
	ClusterReadyTimeout = 2 * time.Minute

	// How often cache size gauges are refreshed.
	ClusterMetricsInterval = 15 * time.Second

	// How often expired dedupe keys are swept.
	DedupeCleanupInterval = 15 * time.Second

	// Dispatch rate history kept for Stats, one sample per second.
	EventHistorySamples = 60
)

type PanicHandler func(cluster *Cluster, r any)

type ClusterOptions struct {
	Logger *slog.Logger
	Config *Configuration

	// ColdResumeStore is required when cold resume is enabled.
	ColdResumeStore ColdResumeStore

	// Pipeline receives forwarded messages. Defaults to dropping them.
	Pipeline CommandPipeline

	IdentifyProvider IdentifyProvider
	DedupeProvider   DedupeProvider
	PanicHandler     PanicHandler
}

// Cluster runs every shard this process owns and serves the cache built
// from their events.
type Cluster struct {
	logger *slog.Logger
	config *Configuration

	identifier string

	cache   *Cache
	tracker *CompletenessTracker
	states  *ShardStateTable
	chunks  *RequestCorrelator[*discord.GuildMembersChunk]
	gate    *IngestGate
	router  *EventRouter
	events  *accumulator.Accumulator

	// Nil when cold resume is disabled.
	coldResume *ColdResumeManager

	identifyProvider IdentifyProvider
	dedupe           DedupeProvider
	panicHandler     PanicHandler

	shards syncmap.Map[int32, *Shard]

	user   *atomic.Pointer[discord.User]
	status *atomic.Int32

	errors chan error

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewCluster(options ClusterOptions) (*Cluster, error) {
	config := options.Config
	if config == nil {
		return nil, fmt.Errorf("%w: missing configuration", ErrConfigInvalid)
	}

	err := config.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	identifier := config.Identifier()
	logger = logger.With("cluster_id", identifier)

	shardIDs := config.OwnedShardIDs()

	cluster := &Cluster{
		logger: logger,
		config: config,

		identifier: identifier,

		cache:   NewCache(),
		tracker: NewCompletenessTracker(identifier, shardIDs),
		states:  NewShardStateTable(identifier, shardIDs),
		chunks:  NewRequestCorrelator[*discord.GuildMembersChunk](identifier),
		gate:    NewIngestGate(),
		router:  NewEventRouter(config.EventBlacklist, options.Pipeline),
		events:  accumulator.NewAccumulator(EventHistorySamples, time.Second),

		identifyProvider: options.IdentifyProvider,
		dedupe:           options.DedupeProvider,
		panicHandler:     options.PanicHandler,

		user:   atomic.NewPointer[discord.User](nil),
		status: atomic.NewInt32(int32(ClusterStatusIdle)),

		errors: make(chan error, len(shardIDs)),
	}

	if config.ColdResume.Enabled {
		if options.ColdResumeStore == nil {
			return nil, fmt.Errorf("%w: cold resume enabled without a store", ErrConfigInvalid)
		}

		cluster.coldResume = NewColdResumeManager(logger, options.ColdResumeStore, identifier, config.ShardCount, time.Duration(config.ColdResume.TTL))
	}

	if cluster.identifyProvider == nil {
		cluster.identifyProvider = NewIdentifyViaBuckets(IdentifyRateLimit)
	}

	if cluster.dedupe == nil {
		cluster.dedupe = NoopDedupeProvider{}
	}

	cluster.tracker.OnComplete(func(shardID int32, guildID discord.Snowflake) {
		logger.Debug("Guild cache complete", "shard_id", shardID, "guild_id", guildID)
	})

	cluster.states.OnTransition(func(shardID int32, from, to ShardState) {
		if from == ShardStateReady && to != ShardStateReady && cluster.Status() == ClusterStatusReady {
			logger.Warn("Shard left ready state", "shard_id", shardID, "state", to.String())
		}
	})

	return cluster, nil
}

func (c *Cluster) setStatus(status ClusterStatus) {
	c.status.Store(int32(status))
	UpdateClusterStatus(c.identifier, status)

	c.logger.Info("Cluster status updated", "status", status.String())
}

func (c *Cluster) Status() ClusterStatus {
	return ClusterStatus(c.status.Load())
}

func (c *Cluster) Identifier() string {
	return c.identifier
}

func (c *Cluster) setUser(user *discord.User) {
	c.user.Store(user)
	c.cache.SetUser(CachedUserFromDiscord(user))
}

// ApplicationID is the bot's own user id, known after the first READY.
func (c *Cluster) ApplicationID() discord.Snowflake {
	if user := c.user.Load(); user != nil {
		return user.ID
	}

	return 0
}

// Errors receives errors that stopped a shard.
func (c *Cluster) Errors() <-chan error {
	return c.errors
}

// Start restores the cold resume snapshot if there is one, then connects
// every shard. The first shard must become ready before the rest connect.
// Shards keep running in the background after Start returns.
func (c *Cluster) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	resumeInfo := c.restore(ctx)

	c.setStatus(ClusterStatusConnecting)

	shardIDs := c.states.ShardIDs()

	for _, shardID := range shardIDs {
		shard := NewShard(c, shardID)

		if info, ok := resumeInfo[shardID]; ok {
			shard.SetResumeInfo(info)
		}

		c.shards.Store(shardID, shard)
	}

	if dedupe, ok := c.dedupe.(*InMemoryDedupeProvider); ok {
		go dedupe.Run(ctx, DedupeCleanupInterval)
	}

	go c.collectMetrics(ctx)
	go c.events.Run(ctx)

	for i, shardID := range shardIDs {
		err := c.startShard(ctx, shardID, i == 0)
		if err != nil {
			c.setStatus(ClusterStatusFailed)

			return err
		}
	}

	c.setStatus(ClusterStatusReady)

	return nil
}

// restore applies the snapshot and returns the resume triples of owned shards.
func (c *Cluster) restore(ctx context.Context) map[int32]ResumeInfo {
	if c.coldResume == nil {
		return nil
	}

	c.setStatus(ClusterStatusRestoring)

	snapshot, outcome := c.coldResume.Restore(ctx)
	if snapshot == nil {
		c.logger.Info("Starting without cold resume", "outcome", outcome.String())

		return nil
	}

	snapshot.Apply(c.cache, c.tracker)

	resumeInfo := make(map[int32]ResumeInfo, len(snapshot.Shards))

	for _, info := range snapshot.Shards {
		if c.states.Owns(info.ShardID) && info.Resumable() {
			resumeInfo[info.ShardID] = info
		}
	}

	c.logger.Info("Applied cold resume snapshot", "resumable_shards", len(resumeInfo), "cache", c.cache.Counts())

	return resumeInfo
}

func (c *Cluster) startShard(ctx context.Context, shardID int32, waitForReady bool) error {
	shard, ok := c.shards.Load(shardID)
	if !ok {
		return ErrUnknownShard
	}

	err := shard.ConnectWithRetry(ctx)
	if err != nil {
		shard.setState(ShardStateDisconnected)

		return fmt.Errorf("failed to connect shard %d: %w", shardID, err)
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		err := shard.Start(ctx)
		if err != nil {
			select {
			case c.errors <- fmt.Errorf("shard %d: %w", shardID, err):
			default:
				c.logger.Error("Dropped shard error", "shard_id", shardID, "error", err)
			}
		}
	}()

	if !waitForReady {
		return nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, ClusterReadyTimeout)
	defer cancel()

	err = shard.WaitForReady(readyCtx)
	if err != nil {
		return fmt.Errorf("shard %d did not become ready: %w", shardID, err)
	}

	return nil
}

// Stop shuts every shard down. With cold resume enabled it first pauses
// ingestion, snapshots the cache and session triples and closes the shards
// with a resumable close code. If the snapshot cannot be taken or saved the
// shards close normally and the error is returned.
func (c *Cluster) Stop(ctx context.Context) error {
	code := websocket.StatusNormalClosure

	var snapshotErr error

	if c.coldResume != nil {
		c.setStatus(ClusterStatusQuiescing)

		snapshotErr = c.persist(ctx)
		if snapshotErr == nil {
			code = WebsocketReconnectCloseCode
		} else {
			c.logger.Error("Failed to persist cold resume snapshot", "error", snapshotErr)
		}
	}

	c.gate.Close()

	c.setStatus(ClusterStatusStopping)

	c.shards.Range(func(_ int32, shard *Shard) bool {
		shard.Stop(ctx, code)

		return true
	})

	c.cancelMu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancelMu.Unlock()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Timed out waiting for shards to stop")
	}

	c.setStatus(ClusterStatusStopped)

	return snapshotErr
}

func (c *Cluster) persist(ctx context.Context) error {
	pauseCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.ColdResume.QuiesceTimeout))
	defer cancel()

	err := c.gate.Pause(pauseCtx)
	if err != nil {
		return err
	}

	// Nothing is ingested from here on; the gate is closed before shards stop.
	snapshot := CaptureSnapshot(c.cache, c.tracker, c.resumeInfo())

	return c.coldResume.Save(ctx, snapshot)
}

func (c *Cluster) resumeInfo() []ResumeInfo {
	shards := make([]ResumeInfo, 0, c.shards.Count())

	c.shards.Range(func(_ int32, shard *Shard) bool {
		shards = append(shards, shard.ResumeInfo())

		return true
	})

	return shards
}

func (c *Cluster) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(ClusterMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			UpdateStateMetrics(c.identifier, c.cache.Counts())
		}
	}
}

func (c *Cluster) GetGuild(guildID discord.Snowflake) (*CachedGuild, bool) {
	return c.cache.GetGuild(guildID)
}

func (c *Cluster) GetRole(guildID, roleID discord.Snowflake) (*CachedRole, bool) {
	return c.cache.GetRole(guildID, roleID)
}

func (c *Cluster) GetRoles(guildID discord.Snowflake) ([]*CachedRole, bool) {
	return c.cache.GetRoles(guildID)
}

func (c *Cluster) GetMember(guildID, userID discord.Snowflake) (*CachedMember, bool) {
	return c.cache.GetMember(guildID, userID)
}

func (c *Cluster) GetUser(userID discord.Snowflake) (*CachedUser, bool) {
	return c.cache.GetUser(userID)
}

func (c *Cluster) IsGuildComplete(guildID discord.Snowflake) bool {
	return c.tracker.IsComplete(guildID)
}

func (c *Cluster) GetShardState(shardID int32) (ShardState, error) {
	return c.states.GetState(shardID)
}

// ShardForGuild returns the shard that receives events for the guild.
func (c *Cluster) ShardForGuild(guildID discord.Snowflake) int32 {
	return guildID.ShardID(c.config.ShardCount)
}

// RequestMemberChunk requests the guild's members and waits for the first
// chunk of the reply. Later chunks still update the cache as they arrive.
func (c *Cluster) RequestMemberChunk(ctx context.Context, guildID discord.Snowflake) (*discord.GuildMembersChunk, error) {
	shardID := c.ShardForGuild(guildID)

	shard, ok := c.shards.Load(shardID)
	if !ok {
		return nil, fmt.Errorf("%w: shard %d for guild %d", ErrUnknownShard, shardID, guildID)
	}

	nonce := c.chunks.NextNonce()

	waiter, err := c.chunks.Register(nonce)
	if err != nil {
		return nil, err
	}

	err = shard.RequestGuildMembers(ctx, guildID, nonce)
	if err != nil {
		c.chunks.Cancel(nonce)

		return nil, fmt.Errorf("failed to request guild members: %w", err)
	}

	return waiter.Wait(ctx, time.Duration(c.config.MemberChunkTimeout))
}

// chunkGuild requests members for a loading guild. On failure the guild
// stays loading until a later RESUMED or GUILD_CREATE requests it again.
func (c *Cluster) chunkGuild(ctx context.Context, guildID discord.Snowflake) {
	_, err := c.RequestMemberChunk(ctx, guildID)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Failed to chunk guild", "guild_id", guildID, "error", err)
	}
}

// ClusterStats is the observability view of the cluster.
type ClusterStats struct {
	ClusterID             string               `json:"cluster_id"`
	Status                ClusterStatus        `json:"status"`
	ReadyShards           int32                `json:"ready_shards"`
	Shards                map[int32]ShardState `json:"shards"`
	PendingRequests       int                  `json:"pending_requests"`
	LastColdResume        time.Time            `json:"last_cold_resume,omitempty"`
	LastColdResumeOutcome ColdResumeOutcome    `json:"last_cold_resume_outcome"`
	Cache                 CacheCounts          `json:"cache"`
	EventsPerSecond       float64              `json:"events_per_second"`
	EventHistory          []accumulator.Sample `json:"event_history"`
}

func (c *Cluster) Stats() ClusterStats {
	stats := ClusterStats{
		ClusterID:       c.identifier,
		Status:          c.Status(),
		ReadyShards:     c.states.ReadyCount(),
		Shards:          c.states.States(),
		PendingRequests: c.chunks.Pending(),
		Cache:           c.cache.Counts(),
		EventsPerSecond: c.events.Rate(),
		EventHistory:    c.events.Samples(),
	}

	if c.coldResume != nil {
		stats.LastColdResume, stats.LastColdResumeOutcome = c.coldResume.Last()
	}

	return stats
}
