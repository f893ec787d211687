package gearbox

import (
	"context"

	"github.com/WelcomerTeam/Gearbox/discord"
)

type contextKey string

var (
	guildIDKey contextKey = "guildID"
	shardIDKey contextKey = "shardID"
)

// WithGuildID adds a guild ID to the context.
func WithGuildID(ctx context.Context, guildID discord.Snowflake) context.Context {
	return context.WithValue(ctx, guildIDKey, guildID)
}

// GuildIDFromContext retrieves the guild ID from the context if present.
func GuildIDFromContext(ctx context.Context) (discord.Snowflake, bool) {
	guildID, ok := ctx.Value(guildIDKey).(discord.Snowflake)

	return guildID, ok
}

// WithShardID adds the receiving shard to the context.
func WithShardID(ctx context.Context, shardID int32) context.Context {
	return context.WithValue(ctx, shardIDKey, shardID)
}

// ShardIDFromContext retrieves the shard ID from the context if present.
func ShardIDFromContext(ctx context.Context) (int32, bool) {
	shardID, ok := ctx.Value(shardIDKey).(int32)

	return shardID, ok
}
