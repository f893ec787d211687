package discord

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

var null = []byte("null")

// DiscordEpoch is the first second of 2015, the epoch snowflakes count from.
const DiscordEpoch = 1420070400000

// Snowflake is a discord identifier. On the wire it is a string, in memory an int64.
type Snowflake int64

func (s Snowflake) IsNil() bool {
	return s == 0
}

func (s Snowflake) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Time returns the creation time encoded in the snowflake.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli((int64(s) >> 22) + DiscordEpoch)
}

// ShardID returns the shard a guild with this identifier is routed to.
func (s Snowflake) ShardID(shardCount int32) int32 {
	if shardCount <= 0 {
		return 0
	}

	return int32((uint64(s) >> 22) % uint64(shardCount))
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	return toSnowflake(b, s)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func toSnowflake(b []byte, s *Snowflake) error {
	if bytes.Equal(b, null) || len(b) == 0 {
		*s = 0

		return nil
	}

	if b[0] == '"' && len(b) >= 2 {
		b = b[1 : len(b)-1]
	}

	if len(b) == 0 {
		*s = 0

		return nil
	}

	i, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to unmarshal snowflake: %w", err)
	}

	*s = Snowflake(i)

	return nil
}

// Int64 is an integer discord sends as a string, such as permission bitsets.
type Int64 int64

func (in *Int64) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, null) || len(b) == 0 {
		*in = 0

		return nil
	}

	if b[0] == '"' && len(b) >= 2 {
		b = b[1 : len(b)-1]
	}

	i, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to unmarshal int64: %w", err)
	}

	*in = Int64(i)

	return nil
}

func (in Int64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(in), 10) + `"`), nil
}
