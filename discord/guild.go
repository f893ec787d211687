package discord

// Role represents a role on discord.
type Role struct {
	GuildID     *Snowflake `json:"guild_id,omitempty"`
	Name        string     `json:"name"`
	ID          Snowflake  `json:"id"`
	Permissions Int64      `json:"permissions"`
	Color       int32      `json:"color"`
	Position    int32      `json:"position"`
	Hoist       bool       `json:"hoist"`
	Managed     bool       `json:"managed"`
	Mentionable bool       `json:"mentionable"`
}

// User represents a user on discord.
type User struct {
	Avatar        *string   `json:"avatar"`
	Username      string    `json:"username"`
	GlobalName    string    `json:"global_name,omitempty"`
	Discriminator string    `json:"discriminator"`
	ID            Snowflake `json:"id"`
	Bot           bool      `json:"bot,omitempty"`
	System        bool      `json:"system,omitempty"`
}

// GuildMember represents a guild member on discord.
type GuildMember struct {
	User     *User       `json:"user,omitempty"`
	GuildID  *Snowflake  `json:"guild_id,omitempty"`
	Nick     string      `json:"nick,omitempty"`
	JoinedAt string      `json:"joined_at,omitempty"`
	Roles    []Snowflake `json:"roles"`
	Deaf     bool        `json:"deaf"`
	Mute     bool        `json:"mute"`
	Pending  bool        `json:"pending"`
}

// Channel represents a guild channel. Only the fields the cache tracks are decoded.
type Channel struct {
	GuildID  *Snowflake `json:"guild_id,omitempty"`
	Name     string     `json:"name,omitempty"`
	ID       Snowflake  `json:"id"`
	Type     int32      `json:"type"`
	Position int32      `json:"position,omitempty"`
}

// Guild represents a guild on discord as delivered by GUILD_CREATE.
type Guild struct {
	OwnerID     *Snowflake    `json:"owner_id,omitempty"`
	Name        string        `json:"name"`
	Icon        string        `json:"icon,omitempty"`
	Roles       []Role        `json:"roles"`
	Members     []GuildMember `json:"members,omitempty"`
	Channels    []Channel     `json:"channels,omitempty"`
	ID          Snowflake     `json:"id"`
	MemberCount int32         `json:"member_count,omitempty"`
	Large       bool          `json:"large,omitempty"`
	Unavailable bool          `json:"unavailable,omitempty"`
}

// UnavailableGuild is a guild that is not (yet) available.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// Message represents a message on discord.
type Message struct {
	GuildID   *Snowflake   `json:"guild_id,omitempty"`
	Member    *GuildMember `json:"member,omitempty"`
	Content   string       `json:"content"`
	Timestamp string       `json:"timestamp"`
	Author    User         `json:"author"`
	ID        Snowflake    `json:"id"`
	ChannelID Snowflake    `json:"channel_id"`
	Type      int32        `json:"type"`
}
