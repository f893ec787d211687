package discord

// Dispatch event names.
const (
	DiscordEventReady             = "READY"
	DiscordEventResumed           = "RESUMED"
	DiscordEventGuildCreate       = "GUILD_CREATE"
	DiscordEventGuildUpdate       = "GUILD_UPDATE"
	DiscordEventGuildDelete       = "GUILD_DELETE"
	DiscordEventGuildRoleCreate   = "GUILD_ROLE_CREATE"
	DiscordEventGuildRoleUpdate   = "GUILD_ROLE_UPDATE"
	DiscordEventGuildRoleDelete   = "GUILD_ROLE_DELETE"
	DiscordEventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
	DiscordEventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	DiscordEventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	DiscordEventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	DiscordEventChannelCreate     = "CHANNEL_CREATE"
	DiscordEventChannelDelete     = "CHANNEL_DELETE"
	DiscordEventMessageCreate     = "MESSAGE_CREATE"
)

// Ready is the first dispatch after a successful identify.
type Ready struct {
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Guilds           []UnavailableGuild `json:"guilds"`
	Shard            []int32            `json:"shard,omitempty"`
	User             User               `json:"user"`
	Version          int32              `json:"v"`
}

// GuildCreate is sent when a guild becomes available.
type GuildCreate Guild

// GuildUpdate is sent when guild metadata changes.
type GuildUpdate Guild

// GuildDelete is sent when a guild becomes unavailable or the bot is removed.
type GuildDelete UnavailableGuild

// GuildRoleCreate is sent when a role is created.
type GuildRoleCreate struct {
	Role    Role      `json:"role"`
	GuildID Snowflake `json:"guild_id"`
}

// GuildRoleUpdate is sent when a role changes.
type GuildRoleUpdate struct {
	Role    Role      `json:"role"`
	GuildID Snowflake `json:"guild_id"`
}

// GuildRoleDelete is sent when a role is removed.
type GuildRoleDelete struct {
	GuildID Snowflake `json:"guild_id"`
	RoleID  Snowflake `json:"role_id"`
}

// GuildMembersChunk is a batch of members sent in reply to RequestGuildMembers.
type GuildMembersChunk struct {
	Nonce      string        `json:"nonce,omitempty"`
	Members    []GuildMember `json:"members"`
	NotFound   []Snowflake   `json:"not_found,omitempty"`
	GuildID    Snowflake     `json:"guild_id"`
	ChunkIndex int32         `json:"chunk_index"`
	ChunkCount int32         `json:"chunk_count"`
}

// Last reports whether this is the final chunk of its request.
func (c GuildMembersChunk) Last() bool {
	return c.ChunkIndex+1 >= c.ChunkCount
}

// GuildMemberAdd is sent when a user joins a guild.
type GuildMemberAdd GuildMember

// GuildMemberUpdate is sent when a member changes.
type GuildMemberUpdate GuildMember

// GuildMemberRemove is sent when a user leaves a guild.
type GuildMemberRemove struct {
	User    User      `json:"user"`
	GuildID Snowflake `json:"guild_id"`
}

// ChannelCreate is sent when a channel is created.
type ChannelCreate Channel

// ChannelDelete is sent when a channel is removed.
type ChannelDelete Channel

// MessageCreate is sent when a message is posted.
type MessageCreate Message
