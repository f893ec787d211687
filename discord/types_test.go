package discord_test

import (
	"testing"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected discord.Snowflake
	}{
		{"string", `"175928847299117063"`, 175928847299117063},
		{"number", `175928847299117063`, 175928847299117063},
		{"null", `null`, 0},
		{"empty string", `""`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var s discord.Snowflake

			require.NoError(t, s.UnmarshalJSON([]byte(tt.input)))
			assert.Equal(t, tt.expected, s)
		})
	}
}

func TestSnowflakeUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	var s discord.Snowflake

	assert.Error(t, s.UnmarshalJSON([]byte(`"abc"`)))
}

func TestSnowflakeShardID(t *testing.T) {
	t.Parallel()

	guildID := discord.Snowflake(41771983423143937)

	// (41771983423143937 >> 22) % 16
	assert.Equal(t, int32((41771983423143937>>22)%16), guildID.ShardID(16))
	assert.Equal(t, int32(0), guildID.ShardID(1))
	assert.Equal(t, int32(0), guildID.ShardID(0))
}

func TestGuildMembersChunkDecode(t *testing.T) {
	t.Parallel()

	data := []byte(`{"guild_id":"10","nonce":"abc","chunk_index":1,"chunk_count":2,"members":[{"user":{"id":"5","username":"a"},"roles":["7"]}]}`)

	var chunk discord.GuildMembersChunk

	require.NoError(t, gearboxjson.Unmarshal(data, &chunk))

	assert.Equal(t, discord.Snowflake(10), chunk.GuildID)
	assert.Equal(t, "abc", chunk.Nonce)
	assert.True(t, chunk.Last())
	require.Len(t, chunk.Members, 1)
	assert.Equal(t, discord.Snowflake(5), chunk.Members[0].User.ID)
	assert.Equal(t, []discord.Snowflake{7}, chunk.Members[0].Roles)
}

func TestRolePermissionsDecode(t *testing.T) {
	t.Parallel()

	var role discord.Role

	require.NoError(t, gearboxjson.Unmarshal([]byte(`{"id":"1","name":"mod","permissions":"8","color":255,"hoist":true}`), &role))

	assert.Equal(t, discord.Int64(8), role.Permissions)
	assert.Equal(t, int32(255), role.Color)
	assert.True(t, role.Hoist)
}
