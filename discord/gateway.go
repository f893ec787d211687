package discord

import "github.com/WelcomerTeam/Gearbox/gearboxjson"

// gateway.go contains the structures sent to and received from the gateway.

// GatewayOp represents the operation codes of a gateway message.
type GatewayOp uint8

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpStatusUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
)

// GatewayIntent represents a bitflag for intents.
type GatewayIntent uint32

const (
	IntentGuilds GatewayIntent = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Gateway close codes.
const (
	CloseUnknownError = 4000 + iota
	CloseUnknownOpCode
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	_
	CloseInvalidSeq
	CloseRateLimited
	CloseSessionTimeout
	CloseInvalidShard
	CloseShardingRequired
	CloseInvalidAPIVersion
	CloseInvalidIntents
	CloseDisallowedIntents
)

// GatewayPayload represents the base payload received from the gateway.
type GatewayPayload struct {
	Type     string                 `json:"t"`
	Data     gearboxjson.RawMessage `json:"d"`
	Sequence int32                  `json:"s"`
	Op       GatewayOp              `json:"op"`
}

// SentPayload represents the base payload we send to the gateway.
type SentPayload struct {
	Data any       `json:"d"`
	Op   GatewayOp `json:"op"`
}

// Hello is the first payload received after connecting.
type Hello struct {
	HeartbeatInterval int32 `json:"heartbeat_interval"`
}

// Identify represents the initial handshake with the gateway.
type Identify struct {
	Properties     IdentifyProperties `json:"properties"`
	Presence       *UpdateStatus      `json:"presence,omitempty"`
	Token          string             `json:"token"`
	Shard          [2]int32           `json:"shard"`
	LargeThreshold int32              `json:"large_threshold"`
	Intents        int32              `json:"intents"`
	Compress       bool               `json:"compress"`
}

// IdentifyProperties are the extra properties sent in the identify packet.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Resume resumes a dropped gateway connection.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int32  `json:"seq"`
}

// RequestGuildMembers requests members for a guild. Replies arrive as
// GUILD_MEMBERS_CHUNK events carrying the same nonce.
type RequestGuildMembers struct {
	Query     string      `json:"query"`
	Nonce     string      `json:"nonce,omitempty"`
	UserIDs   []Snowflake `json:"user_ids,omitempty"`
	GuildID   Snowflake   `json:"guild_id"`
	Limit     int32       `json:"limit"`
	Presences bool        `json:"presences"`
}

// ActivityType is the kind of activity shown in a presence.
type ActivityType int32

const (
	ActivityTypePlaying ActivityType = iota
	ActivityTypeStreaming
	ActivityTypeListening
	ActivityTypeWatching
	ActivityTypeCustom
	ActivityTypeCompeting
)

// Activity is a single entry in a presence.
type Activity struct {
	Name  string       `json:"name" yaml:"name"`
	State string       `json:"state,omitempty" yaml:"state,omitempty"`
	Type  ActivityType `json:"type" yaml:"type"`
}

// UpdateStatus updates a client's presence.
type UpdateStatus struct {
	Status     string      `json:"status" yaml:"status"`
	Activities []*Activity `json:"activities" yaml:"activities"`
	Since      int64       `json:"since,omitempty" yaml:"since,omitempty"`
	AFK        bool        `json:"afk" yaml:"afk"`
}
