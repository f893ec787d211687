package gearbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPipeline struct {
	mu       sync.Mutex
	messages []*discord.MessageCreate
	subjects []string
}

func (p *recordingPipeline) Forward(ctx context.Context, _ *Shard, message *discord.MessageCreate, _ *Trace) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, message)
	p.subjects = append(p.subjects, forwardSubject(ctx, message))

	return nil
}

func (p *recordingPipeline) Forwarded() []*discord.MessageCreate {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*discord.MessageCreate(nil), p.messages...)
}

// newRouterCluster builds a cluster with one unconnected shard. Commands the
// handlers try to send fail, which leaves requests unanswered.
func newRouterCluster(t *testing.T, clusterID int32, modify func(*Configuration)) (*Cluster, *Shard, *recordingPipeline) {
	t.Helper()

	config := &Configuration{
		ClusterID:          clusterID,
		Token:              "token",
		ShardCount:         1,
		ShardIDs:           "0",
		ChunkGuildsOnStart: true,
		MemberChunkTimeout: Duration(50 * time.Millisecond),
	}
	config.Defaults()

	if modify != nil {
		modify(config)
	}

	pipeline := &recordingPipeline{}

	cluster, err := NewCluster(ClusterOptions{
		Logger:         discardLogger(),
		Config:         config,
		Pipeline:       pipeline,
		DedupeProvider: NewInMemoryDedupeProvider(),
	})
	require.NoError(t, err)

	shard := NewShard(cluster, 0)
	cluster.shards.Store(0, shard)

	return cluster, shard, pipeline
}

func dispatch(t *testing.T, shard *Shard, sequence int32, eventType string, data any) {
	t.Helper()

	raw, err := gearboxjson.Marshal(data)
	require.NoError(t, err)

	err = shard.OnEvent(context.Background(), &discord.GatewayPayload{
		Op:       discord.GatewayOpDispatch,
		Type:     eventType,
		Sequence: sequence,
		Data:     raw,
	}, NewTrace())
	require.NoError(t, err)
}

func messageIn(guildID discord.Snowflake, messageID discord.Snowflake, authorID discord.Snowflake) discord.MessageCreate {
	return discord.MessageCreate{
		ID:        messageID,
		GuildID:   &guildID,
		ChannelID: 900,
		Content:   "!ping",
		Author:    discord.User{ID: authorID, Username: "user"},
	}
}

func TestRouterGatesMessagesOnGuildCompleteness(t *testing.T) {
	t.Parallel()

	cluster, shard, pipeline := newRouterCluster(t, 200, nil)

	const guildID = discord.Snowflake(500)

	dispatch(t, shard, 1, discord.DiscordEventGuildCreate, discord.Guild{
		ID:          guildID,
		Name:        "loading",
		MemberCount: 50,
		Roles:       []discord.Role{{ID: guildID, Name: "@everyone"}},
	})

	guild, ok := cluster.GetGuild(guildID)
	require.True(t, ok)
	assert.Equal(t, "loading", guild.Name)
	assert.False(t, cluster.IsGuildComplete(guildID))

	for i := range int32(50) {
		dispatch(t, shard, 2+2*i, discord.DiscordEventMessageCreate, messageIn(guildID, discord.Snowflake(10_000+i), 2))

		assert.Empty(t, pipeline.Forwarded(), "message forwarded before chunk %d", i)
		assert.False(t, cluster.IsGuildComplete(guildID))

		userID := discord.Snowflake(1_000 + i)

		dispatch(t, shard, 3+2*i, discord.DiscordEventGuildMembersChunk, discord.GuildMembersChunk{
			GuildID:    guildID,
			Members:    []discord.GuildMember{{User: &discord.User{ID: userID, Username: fmt.Sprintf("member-%d", i)}}},
			ChunkIndex: i,
			ChunkCount: 50,
		})
	}

	assert.True(t, cluster.IsGuildComplete(guildID))
	assert.Equal(t, 50, cluster.cache.MemberCount(guildID))
	assert.Equal(t, int32(101), shard.sequence.Load())

	dispatch(t, shard, 102, discord.DiscordEventMessageCreate, messageIn(guildID, 20_000, 2))
	dispatch(t, shard, 103, discord.DiscordEventMessageCreate, messageIn(guildID, 20_000, 2))

	forwarded := pipeline.Forwarded()
	require.Len(t, forwarded, 1)
	assert.Equal(t, discord.Snowflake(20_000), forwarded[0].ID)
	assert.Equal(t, []string{"500"}, pipeline.subjects)
}

func TestRouterDropsMessagesForUnknownGuildsAndForwardsDirectMessages(t *testing.T) {
	t.Parallel()

	_, shard, pipeline := newRouterCluster(t, 201, nil)

	dispatch(t, shard, 1, discord.DiscordEventMessageCreate, messageIn(404, 1, 2))
	assert.Empty(t, pipeline.Forwarded())

	dispatch(t, shard, 2, discord.DiscordEventMessageCreate, discord.MessageCreate{
		ID:        2,
		ChannelID: 77,
		Author:    discord.User{ID: 3},
	})

	require.Len(t, pipeline.Forwarded(), 1)
	assert.Equal(t, []string{"dm"}, pipeline.subjects)
}

func TestRouterReadyAndOwnMessages(t *testing.T) {
	t.Parallel()

	cluster, shard, pipeline := newRouterCluster(t, 202, func(c *Configuration) {
		c.ChunkGuildsOnStart = false
	})

	dispatch(t, shard, 1, discord.DiscordEventReady, discord.Ready{
		SessionID:        "session",
		ResumeGatewayURL: "wss://resume.example",
		User:             discord.User{ID: 1, Username: "gearbox", Bot: true},
		Guilds:           []discord.UnavailableGuild{{ID: 600, Unavailable: true}},
	})

	assert.Equal(t, discord.Snowflake(1), cluster.ApplicationID())
	assert.Equal(t, ShardStateReady, shard.State())
	assert.Equal(t, int64(1), cluster.tracker.ShardPendingGuilds(0))
	assert.Equal(t, ResumeInfo{ShardID: 0, ResumeGatewayURL: "wss://resume.example", SessionID: "session", Sequence: 1}, shard.ResumeInfo())
	assert.NoError(t, shard.WaitForReady(context.Background()))

	dispatch(t, shard, 2, discord.DiscordEventGuildCreate, discord.Guild{ID: 600, Name: "ready", MemberCount: 10})

	assert.True(t, cluster.IsGuildComplete(600), "guild completes at once when chunking is off")
	assert.Equal(t, int64(0), cluster.tracker.ShardPendingGuilds(0))

	dispatch(t, shard, 3, discord.DiscordEventMessageCreate, messageIn(600, 1, 1))
	assert.Empty(t, pipeline.Forwarded())

	dispatch(t, shard, 4, discord.DiscordEventMessageCreate, messageIn(600, 2, 2))
	assert.Len(t, pipeline.Forwarded(), 1)

	messages := func(author string) float64 {
		return testutil.ToFloat64(MessageMetrics.Messages.WithLabelValues(cluster.identifier, author))
	}

	assert.InDelta(t, 1, messages("own"), 0)
	assert.InDelta(t, 1, messages("bot"), 0)
	assert.InDelta(t, 1, messages("user"), 0)
}

func TestRouterGuildCreateReplacesPreviousPeriod(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 207, func(c *Configuration) {
		c.ChunkGuildsOnStart = false
	})

	const guildID = discord.Snowflake(700)

	dispatch(t, shard, 1, discord.DiscordEventGuildCreate, discord.Guild{
		ID:          guildID,
		Name:        "before",
		MemberCount: 2,
		Members: []discord.GuildMember{
			{User: &discord.User{ID: 10, Username: "stays"}},
			{User: &discord.User{ID: 11, Username: "leaves"}},
		},
	})

	require.True(t, cluster.IsGuildComplete(guildID))
	assert.ElementsMatch(t, []discord.Snowflake{10, 11}, cluster.cache.MemberIDs(guildID))

	dispatch(t, shard, 2, discord.DiscordEventGuildCreate, discord.Guild{
		ID:          guildID,
		Name:        "after",
		MemberCount: 1,
		Members:     []discord.GuildMember{{User: &discord.User{ID: 10, Username: "stays"}}},
	})

	guild, ok := cluster.GetGuild(guildID)
	require.True(t, ok)
	assert.Equal(t, "after", guild.Name)
	assert.True(t, cluster.IsGuildComplete(guildID))
	assert.Equal(t, []discord.Snowflake{10}, cluster.cache.MemberIDs(guildID))

	_, ok = cluster.GetMember(guildID, 11)
	assert.False(t, ok, "member absent from the fresh payload is dropped")
}

func TestRouterGuildCreateRestartsLoading(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 208, nil)

	const guildID = discord.Snowflake(710)

	dispatch(t, shard, 1, discord.DiscordEventGuildCreate, discord.Guild{
		ID:          guildID,
		MemberCount: 1,
		Members:     []discord.GuildMember{{User: &discord.User{ID: 10}}},
	})

	require.True(t, cluster.IsGuildComplete(guildID))

	var completions []discord.Snowflake

	cluster.tracker.OnComplete(func(_ int32, guildID discord.Snowflake) {
		completions = append(completions, guildID)
	})

	dispatch(t, shard, 2, discord.DiscordEventGuildCreate, discord.Guild{
		ID:          guildID,
		MemberCount: 3,
		Members:     []discord.GuildMember{{User: &discord.User{ID: 10}}},
	})

	assert.False(t, cluster.IsGuildComplete(guildID), "a fresh payload with missing members starts a new load")
	assert.Equal(t, int64(2), cluster.tracker.Missing(guildID))

	dispatch(t, shard, 3, discord.DiscordEventGuildMembersChunk, discord.GuildMembersChunk{
		GuildID:    guildID,
		Members:    []discord.GuildMember{{User: &discord.User{ID: 11}}, {User: &discord.User{ID: 12}}},
		ChunkCount: 1,
	})

	assert.True(t, cluster.IsGuildComplete(guildID))
	assert.Equal(t, []discord.Snowflake{guildID}, completions)
	assert.ElementsMatch(t, []discord.Snowflake{10, 11, 12}, cluster.cache.MemberIDs(guildID))
}

func TestRouterRoleMemberAndChannelEvents(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 203, func(c *Configuration) {
		c.ChunkGuildsOnStart = false
	})

	guildID := discord.Snowflake(700)

	dispatch(t, shard, 1, discord.DiscordEventGuildCreate, discord.Guild{
		ID:          guildID,
		Name:        "roles",
		MemberCount: 1,
		Members:     []discord.GuildMember{{User: &discord.User{ID: 10}}},
	})

	dispatch(t, shard, 2, discord.DiscordEventGuildRoleCreate, discord.GuildRoleCreate{
		GuildID: guildID,
		Role:    discord.Role{ID: 1, Name: "Moderator", Permissions: 8},
	})

	role, ok := cluster.GetRole(guildID, 1)
	require.True(t, ok)

	dispatch(t, shard, 3, discord.DiscordEventGuildRoleUpdate, discord.GuildRoleUpdate{
		GuildID: guildID,
		Role:    discord.Role{ID: 1, Name: "Admin", Permissions: 8},
	})

	updated, ok := cluster.GetRole(guildID, 1)
	require.True(t, ok)
	assert.Equal(t, "Admin", updated.Name)
	assert.Equal(t, "Moderator", role.Name, "old snapshot is unchanged")

	dispatch(t, shard, 4, discord.DiscordEventGuildRoleDelete, discord.GuildRoleDelete{GuildID: guildID, RoleID: 1})

	_, ok = cluster.GetRole(guildID, 1)
	assert.False(t, ok)

	dispatch(t, shard, 5, discord.DiscordEventGuildMemberAdd, discord.GuildMember{
		GuildID: &guildID,
		User:    &discord.User{ID: 11, Username: "joined"},
		Roles:   []discord.Snowflake{1},
	})

	member, ok := cluster.GetMember(guildID, 11)
	require.True(t, ok)
	assert.True(t, member.HasRole(1))

	guild, _ := cluster.GetGuild(guildID)
	assert.Equal(t, int32(2), guild.MemberCount)

	dispatch(t, shard, 6, discord.DiscordEventGuildMemberRemove, discord.GuildMemberRemove{GuildID: guildID, User: discord.User{ID: 11}})

	_, ok = cluster.GetMember(guildID, 11)
	assert.False(t, ok)

	guild, _ = cluster.GetGuild(guildID)
	assert.Equal(t, int32(1), guild.MemberCount)

	dispatch(t, shard, 7, discord.DiscordEventChannelCreate, discord.Channel{ID: 901, GuildID: &guildID})
	assert.Contains(t, cluster.cache.ChannelIDs(guildID), discord.Snowflake(901))

	dispatch(t, shard, 8, discord.DiscordEventChannelDelete, discord.Channel{ID: 901, GuildID: &guildID})
	assert.NotContains(t, cluster.cache.ChannelIDs(guildID), discord.Snowflake(901))

	dispatch(t, shard, 9, discord.DiscordEventGuildDelete, discord.UnavailableGuild{ID: guildID})

	_, ok = cluster.GetGuild(guildID)
	assert.False(t, ok)
	assert.False(t, cluster.IsGuildComplete(guildID))
}

func TestRouterEventBlacklist(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 204, func(c *Configuration) {
		c.EventBlacklist = []string{discord.DiscordEventGuildCreate}
	})

	dispatch(t, shard, 1, discord.DiscordEventGuildCreate, discord.Guild{ID: 800, Name: "ignored"})

	_, ok := cluster.GetGuild(800)
	assert.False(t, ok)
	assert.Equal(t, int32(1), shard.sequence.Load(), "sequence still advances")
}

func TestRouterResolvesChunkRequestsByNonce(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 205, func(c *Configuration) {
		c.ChunkGuildsOnStart = false
	})

	guildID := discord.Snowflake(900)

	dispatch(t, shard, 1, discord.DiscordEventGuildCreate, discord.Guild{ID: guildID, MemberCount: 2})

	waiter, err := cluster.chunks.Register("abc")
	require.NoError(t, err)

	dispatch(t, shard, 2, discord.DiscordEventGuildMembersChunk, discord.GuildMembersChunk{
		GuildID:    guildID,
		Nonce:      "abc",
		Members:    []discord.GuildMember{{User: &discord.User{ID: 20}}},
		ChunkCount: 1,
	})

	chunk, err := waiter.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, guildID, chunk.GuildID)
	assert.Len(t, chunk.Members, 1)

	_, ok := cluster.GetMember(guildID, 20)
	assert.True(t, ok, "cache is updated before the waiter sees the chunk")

	late, err := cluster.chunks.Register("late")
	require.NoError(t, err)

	_, err = late.Wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrChunkTimeout)

	dispatch(t, shard, 3, discord.DiscordEventGuildMembersChunk, discord.GuildMembersChunk{
		GuildID:    guildID,
		Nonce:      "late",
		Members:    []discord.GuildMember{{User: &discord.User{ID: 21}}},
		ChunkCount: 1,
	})

	assert.Equal(t, 0, cluster.chunks.Pending())

	_, ok = cluster.GetMember(guildID, 21)
	assert.True(t, ok, "late chunks still update the cache")
}

func TestRequestMemberChunkWithoutConnection(t *testing.T) {
	t.Parallel()

	cluster, _, _ := newRouterCluster(t, 206, nil)

	_, err := cluster.RequestMemberChunk(context.Background(), 42)
	require.ErrorIs(t, err, ErrShardNotConnected)
	assert.Equal(t, 0, cluster.chunks.Pending())
}
