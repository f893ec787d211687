package gearbox

import (
	"context"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
)

// MessageDedupeTTL covers events replayed by a RESUME.
var MessageDedupeTTL = 10 * time.Minute

// OnReady stores the new session and marks the shard ready.
func OnReady(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var readyPayload discord.Ready

	err := unmarshalPayload(msg, &readyPayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	shard.logger.Debug("Received READY payload", "guilds", len(readyPayload.Guilds))

	shard.sessionID.Store(readyPayload.SessionID)
	shard.resumeGatewayURL.Store(readyPayload.ResumeGatewayURL)

	shard.cluster.setUser(&readyPayload.User)
	shard.cluster.tracker.ExpectGuilds(shard.ShardID, len(readyPayload.Guilds))

	shard.markReady()

	err = shard.UpdatePresence(ctx, &shard.cluster.config.Presence)
	if err != nil {
		shard.logger.Warn("Failed to update presence", "error", err)
	}

	return DispatchResult{}, false, nil
}

// OnResumed marks the shard ready and re-requests members for guilds that
// are still loading, such as guilds restored from a snapshot mid-load.
// No READY follows a resume, so the ready presence is sent here.
func OnResumed(ctx context.Context, shard *Shard, _ *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	shard.logger.Debug("Shard has resumed", "sequence", shard.sequence.Load())

	shard.markReady()

	err := shard.UpdatePresence(ctx, &shard.cluster.config.Presence)
	if err != nil {
		shard.logger.Warn("Failed to update presence", "error", err)
	}

	for _, guildID := range shard.cluster.tracker.Incomplete(shard.ShardID) {
		go shard.cluster.chunkGuild(ctx, guildID)
	}

	return DispatchResult{}, false, nil
}

// OnGuildCreate stores the guild and starts a new load period for it.
func OnGuildCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildCreatePayload discord.GuildCreate

	err := unmarshalPayload(msg, &guildCreatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	if guildCreatePayload.Unavailable {
		return DispatchResult{}, false, nil
	}

	guild := discord.Guild(guildCreatePayload)
	cluster := shard.cluster

	chunk := cluster.config.ChunkGuildsOnStart
	missing := int64(guild.MemberCount) - int64(len(guild.Members))

	var expected int64

	switch {
	case guild.MemberCount <= 0:
		// Unknown total: the end of the member request is the only signal.
		expected = -1
	case missing > 0 && chunk:
		expected = missing
	}

	// The new period starts before the cache changes so readers never see the
	// new payload as complete under the previous period's flag.
	cluster.tracker.Begin(shard.ShardID, guild.ID, expected)
	cluster.cache.SetGuild(shard.ShardID, &guild)

	if expected >= 0 || !chunk {
		cluster.tracker.MarkSnapshotDone(guild.ID)
	}

	if chunk && expected != 0 {
		go cluster.chunkGuild(ctx, guild.ID)
	}

	shard.logger.Debug("Guild available", "guild_id", guild.ID, "member_count", guild.MemberCount, "missing", max(missing, 0))

	return DispatchResult{}, false, nil
}

func OnGuildUpdate(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildUpdatePayload discord.GuildUpdate

	err := unmarshalPayload(msg, &guildUpdatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	guild := discord.Guild(guildUpdatePayload)

	if _, ok := shard.cluster.cache.UpdateGuild(&guild); !ok {
		shard.logger.Warn("Received "+discord.DiscordEventGuildUpdate+" event, but previous guild not present in state", "guild_id", guild.ID)
	}

	return DispatchResult{}, false, nil
}

func OnGuildDelete(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildDeletePayload discord.GuildDelete

	err := unmarshalPayload(msg, &guildDeletePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	if _, ok := shard.cluster.cache.RemoveGuild(guildDeletePayload.ID); !ok {
		shard.logger.Warn("Received "+discord.DiscordEventGuildDelete+" event, but previous guild not present in state", "guild_id", guildDeletePayload.ID)
	}

	shard.cluster.tracker.Forget(guildDeletePayload.ID)

	shard.logger.Debug("Guild removed", "guild_id", guildDeletePayload.ID, "unavailable", guildDeletePayload.Unavailable)

	return DispatchResult{}, false, nil
}

func OnGuildRoleCreate(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildRoleCreatePayload discord.GuildRoleCreate

	err := unmarshalPayload(msg, &guildRoleCreatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	shard.cluster.cache.SetRole(guildRoleCreatePayload.GuildID, CachedRoleFromDiscord(&guildRoleCreatePayload.Role))

	return DispatchResult{}, false, nil
}

func OnGuildRoleUpdate(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildRoleUpdatePayload discord.GuildRoleUpdate

	err := unmarshalPayload(msg, &guildRoleUpdatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	if _, ok := shard.cluster.cache.GetRole(guildRoleUpdatePayload.GuildID, guildRoleUpdatePayload.Role.ID); !ok {
		shard.logger.Warn("Received "+discord.DiscordEventGuildRoleUpdate+" event, but previous role not present in state", "guild_id", guildRoleUpdatePayload.GuildID, "role_id", guildRoleUpdatePayload.Role.ID)
	}

	shard.cluster.cache.SetRole(guildRoleUpdatePayload.GuildID, CachedRoleFromDiscord(&guildRoleUpdatePayload.Role))

	return DispatchResult{}, false, nil
}

func OnGuildRoleDelete(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildRoleDeletePayload discord.GuildRoleDelete

	err := unmarshalPayload(msg, &guildRoleDeletePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	shard.cluster.cache.RemoveRole(guildRoleDeletePayload.GuildID, guildRoleDeletePayload.RoleID)

	return DispatchResult{}, false, nil
}

// OnGuildMembersChunk stores the members, counts the new ones against the
// guild's load and then hands the chunk to whoever requested it.
func OnGuildMembersChunk(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildMembersChunkPayload discord.GuildMembersChunk

	err := unmarshalPayload(msg, &guildMembersChunkPayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	cluster := shard.cluster
	guildID := guildMembersChunkPayload.GuildID

	if _, ok := cluster.cache.GetGuild(guildID); ok {
		before := cluster.cache.MemberCount(guildID)
		cluster.cache.SetMembers(guildID, guildMembersChunkPayload.Members)

		cluster.tracker.Arrived(guildID, int64(cluster.cache.MemberCount(guildID)-before))

		if guildMembersChunkPayload.Last() {
			cluster.tracker.Settle(guildID)
			cluster.tracker.MarkSnapshotDone(guildID)
		}
	} else {
		shard.logger.Warn("Received guild member chunk, but guild not present in state", "guild_id", guildID)
	}

	shard.logger.Debug("Chunked guild members",
		"guild_id", guildID,
		"members", len(guildMembersChunkPayload.Members),
		"chunk_index", guildMembersChunkPayload.ChunkIndex,
		"chunk_count", guildMembersChunkPayload.ChunkCount,
	)

	if guildMembersChunkPayload.Nonce != "" {
		cluster.chunks.Resolve(guildMembersChunkPayload.Nonce, &guildMembersChunkPayload)
	}

	return DispatchResult{}, false, nil
}

func OnGuildMemberAdd(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildMemberAddPayload discord.GuildMemberAdd

	err := unmarshalPayload(msg, &guildMemberAddPayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	member := discord.GuildMember(guildMemberAddPayload)
	if member.GuildID == nil || member.User == nil {
		return DispatchResult{}, false, nil
	}

	cache := shard.cluster.cache

	cache.SetUser(CachedUserFromDiscord(member.User))
	cache.SetMember(*member.GuildID, CachedMemberFromDiscord(&member))

	if guild, ok := cache.GetGuild(*member.GuildID); ok {
		updated := *guild
		updated.MemberCount++
		cache.StoreGuild(&updated)
	}

	return DispatchResult{}, false, nil
}

func OnGuildMemberUpdate(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildMemberUpdatePayload discord.GuildMemberUpdate

	err := unmarshalPayload(msg, &guildMemberUpdatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	member := discord.GuildMember(guildMemberUpdatePayload)
	if member.GuildID == nil || member.User == nil {
		return DispatchResult{}, false, nil
	}

	shard.cluster.cache.SetUser(CachedUserFromDiscord(member.User))
	shard.cluster.cache.SetMember(*member.GuildID, CachedMemberFromDiscord(&member))

	return DispatchResult{}, false, nil
}

func OnGuildMemberRemove(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var guildMemberRemovePayload discord.GuildMemberRemove

	err := unmarshalPayload(msg, &guildMemberRemovePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	cache := shard.cluster.cache
	guildID := guildMemberRemovePayload.GuildID

	if _, ok := cache.GetMember(guildID, guildMemberRemovePayload.User.ID); !ok {
		shard.logger.Warn("Received "+discord.DiscordEventGuildMemberRemove+" event, but previous guild member not present in state", "guild_id", guildID, "user_id", guildMemberRemovePayload.User.ID)
	}

	cache.RemoveMember(guildID, guildMemberRemovePayload.User.ID)

	if guild, ok := cache.GetGuild(guildID); ok && guild.MemberCount > 0 {
		updated := *guild
		updated.MemberCount--
		cache.StoreGuild(&updated)
	}

	return DispatchResult{}, false, nil
}

func OnChannelCreate(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var channelCreatePayload discord.ChannelCreate

	err := unmarshalPayload(msg, &channelCreatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	if channelCreatePayload.GuildID != nil {
		shard.cluster.cache.AddChannel(*channelCreatePayload.GuildID, channelCreatePayload.ID)
	}

	return DispatchResult{}, false, nil
}

func OnChannelDelete(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var channelDeletePayload discord.ChannelDelete

	err := unmarshalPayload(msg, &channelDeletePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	if channelDeletePayload.GuildID != nil {
		shard.cluster.cache.RemoveChannel(*channelDeletePayload.GuildID, channelDeletePayload.ID)
	}

	return DispatchResult{}, false, nil
}

// OnMessageCreate forwards messages from other users. Guild messages are
// only forwarded once the guild's cache is complete.
func OnMessageCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) (DispatchResult, bool, error) {
	var messageCreatePayload discord.MessageCreate

	err := unmarshalPayload(msg, &messageCreatePayload)
	if err != nil {
		return DispatchResult{}, false, err
	}

	cluster := shard.cluster

	switch {
	case messageCreatePayload.Author.ID == cluster.ApplicationID():
		// Own messages are bot messages too.
		RecordMessage(cluster.identifier, "own")
		RecordMessage(cluster.identifier, "bot")

		return DispatchResult{}, false, nil
	case messageCreatePayload.Author.Bot:
		RecordMessage(cluster.identifier, "bot")
	default:
		RecordMessage(cluster.identifier, "user")
	}

	if guildID := messageCreatePayload.GuildID; guildID != nil {
		if _, ok := cluster.cache.GetGuild(*guildID); !ok {
			RecordDroppedMessage(cluster.identifier, "unknown_guild")

			return DispatchResult{}, false, nil
		}

		if !cluster.tracker.IsComplete(*guildID) {
			RecordDroppedMessage(cluster.identifier, "incomplete_guild")

			return DispatchResult{}, false, nil
		}
	}

	if !cluster.dedupe.Deduplicate(ctx, "message:"+messageCreatePayload.ID.String(), MessageDedupeTTL) {
		RecordDroppedMessage(cluster.identifier, "duplicate")

		return DispatchResult{}, false, nil
	}

	return DispatchResult{Message: &messageCreatePayload}, true, nil
}

func init() {
	registerDispatchHandler(discord.DiscordEventReady, OnReady)
	registerDispatchHandler(discord.DiscordEventResumed, OnResumed)
	registerDispatchHandler(discord.DiscordEventGuildCreate, OnGuildCreate)
	registerDispatchHandler(discord.DiscordEventGuildUpdate, OnGuildUpdate)
	registerDispatchHandler(discord.DiscordEventGuildDelete, OnGuildDelete)
	registerDispatchHandler(discord.DiscordEventGuildRoleCreate, OnGuildRoleCreate)
	registerDispatchHandler(discord.DiscordEventGuildRoleUpdate, OnGuildRoleUpdate)
	registerDispatchHandler(discord.DiscordEventGuildRoleDelete, OnGuildRoleDelete)
	registerDispatchHandler(discord.DiscordEventGuildMembersChunk, OnGuildMembersChunk)
	registerDispatchHandler(discord.DiscordEventGuildMemberAdd, OnGuildMemberAdd)
	registerDispatchHandler(discord.DiscordEventGuildMemberUpdate, OnGuildMemberUpdate)
	registerDispatchHandler(discord.DiscordEventGuildMemberRemove, OnGuildMemberRemove)
	registerDispatchHandler(discord.DiscordEventChannelCreate, OnChannelCreate)
	registerDispatchHandler(discord.DiscordEventChannelDelete, OnChannelDelete)
	registerDispatchHandler(discord.DiscordEventMessageCreate, OnMessageCreate)
}
