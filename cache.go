package gearbox

import (
	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/pkg/syncmap"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
)

// CachedGuild is an immutable snapshot of a guild's own attributes.
// Roles, members and channels are kept in separate per-guild maps so a role
// update never copies the guild.
type CachedGuild struct {
	ID          discord.Snowflake `msgpack:"a" json:"id"`
	Name        string            `msgpack:"b" json:"name"`
	OwnerID     discord.Snowflake `msgpack:"c" json:"owner_id"`
	Icon        string            `msgpack:"d" json:"icon,omitempty"`
	MemberCount int32             `msgpack:"e" json:"member_count"`
	Large       bool              `msgpack:"f" json:"large"`
	ShardID     int32             `msgpack:"g" json:"shard_id"`
}

// CachedRole is replaced wholesale on every update. Holders of an older
// pointer keep seeing the values they loaded.
type CachedRole struct {
	ID          discord.Snowflake `msgpack:"a" json:"id"`
	Name        string            `msgpack:"b" json:"name"`
	Color       int32             `msgpack:"c" json:"color"`
	Hoist       bool              `msgpack:"d" json:"hoist"`
	Position    int32             `msgpack:"e" json:"position"`
	Permissions int64             `msgpack:"f" json:"permissions"`
	Managed     bool              `msgpack:"g" json:"managed"`
	Mentionable bool              `msgpack:"h" json:"mentionable"`
}

type CachedMember struct {
	UserID   discord.Snowflake   `msgpack:"a" json:"user_id"`
	Nick     string              `msgpack:"b" json:"nick,omitempty"`
	Roles    []discord.Snowflake `msgpack:"c" json:"roles"`
	JoinedAt string              `msgpack:"d" json:"joined_at,omitempty"`
	Pending  bool                `msgpack:"e" json:"pending"`
}

type CachedUser struct {
	ID            discord.Snowflake `msgpack:"a" json:"id"`
	Username      string            `msgpack:"b" json:"username"`
	GlobalName    string            `msgpack:"c" json:"global_name,omitempty"`
	Discriminator string            `msgpack:"d" json:"discriminator,omitempty"`
	Avatar        string            `msgpack:"e" json:"avatar,omitempty"`
	Bot           bool              `msgpack:"f" json:"bot"`
}

// HasRole reports whether the member holds the role.
func (m *CachedMember) HasRole(roleID discord.Snowflake) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}

	return false
}

// Cache holds every entity derived from the event stream.
// Top level maps are sharded; per-guild children live in their own maps so a
// write to one guild never contends with a read of another.
type Cache struct {
	guilds   *csmap.CsMap[discord.Snowflake, *CachedGuild]
	roles    *csmap.CsMap[discord.Snowflake, *syncmap.Map[discord.Snowflake, *CachedRole]]
	members  *csmap.CsMap[discord.Snowflake, *syncmap.Map[discord.Snowflake, *CachedMember]]
	channels *csmap.CsMap[discord.Snowflake, *syncmap.Map[discord.Snowflake, struct{}]]
	users    *csmap.CsMap[discord.Snowflake, *CachedUser]
}

func NewCache() *Cache {
	return &Cache{
		guilds:   csmap.Create[discord.Snowflake, *CachedGuild](),
		roles:    csmap.Create[discord.Snowflake, *syncmap.Map[discord.Snowflake, *CachedRole]](),
		members:  csmap.Create[discord.Snowflake, *syncmap.Map[discord.Snowflake, *CachedMember]](),
		channels: csmap.Create[discord.Snowflake, *syncmap.Map[discord.Snowflake, struct{}]](),
		users:    csmap.Create[discord.Snowflake, *CachedUser](),
	}
}

func CachedGuildFromDiscord(shardID int32, guild *discord.Guild) *CachedGuild {
	cachedGuild := &CachedGuild{
		ID:          guild.ID,
		Name:        guild.Name,
		Icon:        guild.Icon,
		MemberCount: guild.MemberCount,
		Large:       guild.Large,
		ShardID:     shardID,
	}

	if guild.OwnerID != nil {
		cachedGuild.OwnerID = *guild.OwnerID
	}

	return cachedGuild
}

func CachedRoleFromDiscord(role *discord.Role) *CachedRole {
	return &CachedRole{
		ID:          role.ID,
		Name:        role.Name,
		Color:       role.Color,
		Hoist:       role.Hoist,
		Position:    role.Position,
		Permissions: int64(role.Permissions),
		Managed:     role.Managed,
		Mentionable: role.Mentionable,
	}
}

func CachedMemberFromDiscord(member *discord.GuildMember) *CachedMember {
	cachedMember := &CachedMember{
		Nick:     member.Nick,
		Roles:    append([]discord.Snowflake(nil), member.Roles...),
		JoinedAt: member.JoinedAt,
		Pending:  member.Pending,
	}

	if member.User != nil {
		cachedMember.UserID = member.User.ID
	}

	return cachedMember
}

func CachedUserFromDiscord(user *discord.User) *CachedUser {
	cachedUser := &CachedUser{
		ID:            user.ID,
		Username:      user.Username,
		GlobalName:    user.GlobalName,
		Discriminator: user.Discriminator,
		Bot:           user.Bot,
	}

	if user.Avatar != nil {
		cachedUser.Avatar = *user.Avatar
	}

	return cachedUser
}

// SetGuild stores a full guild payload. Roles, channels and members are
// replaced, so members missing from the payload are gone until chunked again.
func (c *Cache) SetGuild(shardID int32, guild *discord.Guild) *CachedGuild {
	cachedGuild := CachedGuildFromDiscord(shardID, guild)

	roles := &syncmap.Map[discord.Snowflake, *CachedRole]{}
	for i := range guild.Roles {
		roles.Store(guild.Roles[i].ID, CachedRoleFromDiscord(&guild.Roles[i]))
	}

	channels := &syncmap.Map[discord.Snowflake, struct{}]{}
	for i := range guild.Channels {
		channels.Store(guild.Channels[i].ID, struct{}{})
	}

	members := &syncmap.Map[discord.Snowflake, *CachedMember]{}
	for i := range guild.Members {
		if guild.Members[i].User == nil {
			continue
		}

		c.SetUser(CachedUserFromDiscord(guild.Members[i].User))
		members.Store(guild.Members[i].User.ID, CachedMemberFromDiscord(&guild.Members[i]))
	}

	c.roles.Store(guild.ID, roles)
	c.channels.Store(guild.ID, channels)
	c.members.Store(guild.ID, members)

	c.guilds.Store(guild.ID, cachedGuild)

	return cachedGuild
}

// UpdateGuild replaces the guild attributes and its role set, keeping members
// and channels. The owning shard is kept from the existing entry.
func (c *Cache) UpdateGuild(guild *discord.Guild) (*CachedGuild, bool) {
	existing, ok := c.guilds.Load(guild.ID)
	if !ok {
		return nil, false
	}

	cachedGuild := CachedGuildFromDiscord(existing.ShardID, guild)
	if cachedGuild.MemberCount == 0 {
		cachedGuild.MemberCount = existing.MemberCount
	}

	if len(guild.Roles) > 0 {
		roles := &syncmap.Map[discord.Snowflake, *CachedRole]{}
		for i := range guild.Roles {
			roles.Store(guild.Roles[i].ID, CachedRoleFromDiscord(&guild.Roles[i]))
		}

		c.roles.Store(guild.ID, roles)
	}

	c.guilds.Store(guild.ID, cachedGuild)

	return cachedGuild, true
}

// StoreGuild stores an already cached guild snapshot.
func (c *Cache) StoreGuild(guild *CachedGuild) {
	c.guilds.Store(guild.ID, guild)
}

func (c *Cache) GetGuild(guildID discord.Snowflake) (*CachedGuild, bool) {
	return c.guilds.Load(guildID)
}

// RemoveGuild evicts the guild and everything scoped to it.
// Users are kept since they may be shared with other guilds.
func (c *Cache) RemoveGuild(guildID discord.Snowflake) (*CachedGuild, bool) {
	guild, ok := c.guilds.Load(guildID)

	c.guilds.Delete(guildID)
	c.roles.Delete(guildID)
	c.members.Delete(guildID)
	c.channels.Delete(guildID)

	return guild, ok
}

// RangeGuilds calls f for each guild until f returns false.
func (c *Cache) RangeGuilds(f func(guild *CachedGuild) bool) {
	c.guilds.Range(func(_ discord.Snowflake, guild *CachedGuild) bool {
		return !f(guild)
	})
}

func (c *Cache) guildRoles(guildID discord.Snowflake) *syncmap.Map[discord.Snowflake, *CachedRole] {
	roles, ok := c.roles.Load(guildID)
	if !ok {
		c.roles.SetIfAbsent(guildID, &syncmap.Map[discord.Snowflake, *CachedRole]{})
		roles, _ = c.roles.Load(guildID)
	}

	return roles
}

func (c *Cache) SetRole(guildID discord.Snowflake, role *CachedRole) {
	c.guildRoles(guildID).Store(role.ID, role)
}

func (c *Cache) GetRole(guildID, roleID discord.Snowflake) (*CachedRole, bool) {
	roles, ok := c.roles.Load(guildID)
	if !ok {
		return nil, false
	}

	return roles.Load(roleID)
}

func (c *Cache) RemoveRole(guildID, roleID discord.Snowflake) {
	if roles, ok := c.roles.Load(guildID); ok {
		roles.Delete(roleID)
	}
}

// GetRoles returns every cached role of the guild.
func (c *Cache) GetRoles(guildID discord.Snowflake) ([]*CachedRole, bool) {
	roles, ok := c.roles.Load(guildID)
	if !ok {
		return nil, false
	}

	result := make([]*CachedRole, 0, roles.Count())

	roles.Range(func(_ discord.Snowflake, role *CachedRole) bool {
		result = append(result, role)

		return true
	})

	return result, true
}

func (c *Cache) guildMembers(guildID discord.Snowflake) *syncmap.Map[discord.Snowflake, *CachedMember] {
	members, ok := c.members.Load(guildID)
	if !ok {
		c.members.SetIfAbsent(guildID, &syncmap.Map[discord.Snowflake, *CachedMember]{})
		members, _ = c.members.Load(guildID)
	}

	return members
}

// SetMembers stores members and their users. Members without a user are skipped.
func (c *Cache) SetMembers(guildID discord.Snowflake, members []discord.GuildMember) int {
	guildMembers := c.guildMembers(guildID)
	stored := 0

	for i := range members {
		if members[i].User == nil {
			continue
		}

		c.SetUser(CachedUserFromDiscord(members[i].User))
		guildMembers.Store(members[i].User.ID, CachedMemberFromDiscord(&members[i]))

		stored++
	}

	return stored
}

func (c *Cache) SetMember(guildID discord.Snowflake, member *CachedMember) {
	c.guildMembers(guildID).Store(member.UserID, member)
}

func (c *Cache) GetMember(guildID, userID discord.Snowflake) (*CachedMember, bool) {
	members, ok := c.members.Load(guildID)
	if !ok {
		return nil, false
	}

	return members.Load(userID)
}

func (c *Cache) RemoveMember(guildID, userID discord.Snowflake) {
	if members, ok := c.members.Load(guildID); ok {
		members.Delete(userID)
	}
}

// GetMembers returns every cached member of the guild.
func (c *Cache) GetMembers(guildID discord.Snowflake) ([]*CachedMember, bool) {
	members, ok := c.members.Load(guildID)
	if !ok {
		return nil, false
	}

	result := make([]*CachedMember, 0, members.Count())

	members.Range(func(_ discord.Snowflake, member *CachedMember) bool {
		result = append(result, member)

		return true
	})

	return result, true
}

func (c *Cache) MemberCount(guildID discord.Snowflake) int {
	members, ok := c.members.Load(guildID)
	if !ok {
		return 0
	}

	return members.Count()
}

func (c *Cache) AddChannel(guildID, channelID discord.Snowflake) {
	channels, ok := c.channels.Load(guildID)
	if !ok {
		c.channels.SetIfAbsent(guildID, &syncmap.Map[discord.Snowflake, struct{}]{})
		channels, _ = c.channels.Load(guildID)
	}

	channels.Store(channelID, struct{}{})
}

func (c *Cache) RemoveChannel(guildID, channelID discord.Snowflake) {
	if channels, ok := c.channels.Load(guildID); ok {
		channels.Delete(channelID)
	}
}

func (c *Cache) ChannelIDs(guildID discord.Snowflake) []discord.Snowflake {
	channels, ok := c.channels.Load(guildID)
	if !ok {
		return nil
	}

	return channels.Keys()
}

func (c *Cache) RoleIDs(guildID discord.Snowflake) []discord.Snowflake {
	roles, ok := c.roles.Load(guildID)
	if !ok {
		return nil
	}

	return roles.Keys()
}

func (c *Cache) MemberIDs(guildID discord.Snowflake) []discord.Snowflake {
	members, ok := c.members.Load(guildID)
	if !ok {
		return nil
	}

	return members.Keys()
}

func (c *Cache) SetUser(user *CachedUser) {
	c.users.Store(user.ID, user)
}

func (c *Cache) GetUser(userID discord.Snowflake) (*CachedUser, bool) {
	return c.users.Load(userID)
}

// RangeUsers calls f for each user until f returns false.
func (c *Cache) RangeUsers(f func(user *CachedUser) bool) {
	c.users.Range(func(_ discord.Snowflake, user *CachedUser) bool {
		return !f(user)
	})
}

// CacheCounts is a point in time view of the cache size.
type CacheCounts struct {
	Guilds  int `json:"guilds"`
	Roles   int `json:"roles"`
	Members int `json:"members"`
	Users   int `json:"users"`
}

func (c *Cache) Counts() CacheCounts {
	counts := CacheCounts{
		Guilds: c.guilds.Count(),
		Users:  c.users.Count(),
	}

	c.roles.Range(func(_ discord.Snowflake, roles *syncmap.Map[discord.Snowflake, *CachedRole]) bool {
		counts.Roles += roles.Count()

		return false
	})

	c.members.Range(func(_ discord.Snowflake, members *syncmap.Map[discord.Snowflake, *CachedMember]) bool {
		counts.Members += members.Count()

		return false
	})

	return counts
}
