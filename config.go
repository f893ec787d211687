package gearbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("failed to parse duration: %w", err)
	}

	*d = Duration(duration)

	return nil
}

type Configuration struct {
	// ClusterID selects which block of shards this process owns and keys the
	// cold resume snapshot.
	ClusterID int32  `json:"cluster_id" yaml:"cluster_id"`
	Token     string `json:"token" yaml:"token"`

	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
	Intents    int32  `json:"intents" yaml:"intents"`

	ShardCount       int32  `json:"shard_count" yaml:"shard_count"`
	ShardsPerCluster int32  `json:"shards_per_cluster" yaml:"shards_per_cluster"`
	ShardIDs         string `json:"shard_ids" yaml:"shard_ids"`
	MaxConcurrency   int32  `json:"max_concurrency" yaml:"max_concurrency"`

	ChunkGuildsOnStart bool     `json:"chunk_guilds_on_start" yaml:"chunk_guilds_on_start"`
	MemberChunkTimeout Duration `json:"member_chunk_timeout" yaml:"member_chunk_timeout"`

	// StartupPresence is sent once identify or resume has gone out. Presence
	// replaces it when the shard becomes ready.
	StartupPresence discord.UpdateStatus `json:"startup_presence" yaml:"startup_presence"`
	Presence        discord.UpdateStatus `json:"presence" yaml:"presence"`

	Identify IdentifyConfiguration `json:"identify" yaml:"identify"`

	// Events the router ignores entirely.
	EventBlacklist []string `json:"event_blacklist" yaml:"event_blacklist"`

	ColdResume ColdResumeConfiguration `json:"cold_resume" yaml:"cold_resume"`
	Producer   ProducerConfiguration   `json:"producer" yaml:"producer"`
	HTTP       HTTPConfiguration       `json:"http" yaml:"http"`
	Logging    LoggingConfiguration    `json:"logging" yaml:"logging"`
}

// IdentifyConfiguration points at a shared identify coordinator. Without a
// URL identifies are only coordinated inside this process.
type IdentifyConfiguration struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

type ColdResumeConfiguration struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	TTL            Duration `json:"ttl" yaml:"ttl"`
	QuiesceTimeout Duration `json:"quiesce_timeout" yaml:"quiesce_timeout"`

	// Store is redis or file.
	Store string             `json:"store" yaml:"store"`
	Path  string             `json:"path" yaml:"path"`
	Redis RedisConfiguration `json:"redis" yaml:"redis"`
}

type RedisConfiguration struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ProducerConfiguration struct {
	// Type is jetstream, stan, kafka, redis or none.
	Type     string `json:"type" yaml:"type"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	Channel  string `json:"channel" yaml:"channel"`
	Cluster  string `json:"cluster" yaml:"cluster"`

	// Balancer selects the kafka partition balancer.
	Balancer string `json:"balancer" yaml:"balancer"`
}

type HTTPConfiguration struct {
	Address string `json:"address" yaml:"address"`
}

type LoggingConfiguration struct {
	Level string `json:"level" yaml:"level"`

	File       string `json:"file" yaml:"file"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

const (
	ColdResumeStoreRedis = "redis"
	ColdResumeStoreFile  = "file"

	defaultGatewayURL = "wss://gateway.discord.gg"
)

// Defaults fills zero values.
func (c *Configuration) Defaults() {
	if c.GatewayURL == "" {
		c.GatewayURL = defaultGatewayURL
	}

	if c.ShardCount <= 0 {
		c.ShardCount = 1
	}

	if c.ShardsPerCluster <= 0 {
		c.ShardsPerCluster = c.ShardCount
	}

	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}

	if c.MemberChunkTimeout <= 0 {
		c.MemberChunkTimeout = Duration(10 * time.Second)
	}

	if c.StartupPresence.Status == "" {
		c.StartupPresence = discord.UpdateStatus{
			Status: "idle",
			Activities: []*discord.Activity{
				{Name: "things coming online", Type: discord.ActivityTypeWatching},
			},
			AFK: true,
		}
	}

	if c.Presence.Status == "" {
		c.Presence = discord.UpdateStatus{
			Status: "online",
			Activities: []*discord.Activity{
				{Name: "the gears turn", Type: discord.ActivityTypeWatching},
			},
		}
	}

	if c.ColdResume.TTL <= 0 {
		c.ColdResume.TTL = Duration(2 * time.Minute)
	}

	if c.ColdResume.QuiesceTimeout <= 0 {
		c.ColdResume.QuiesceTimeout = Duration(5 * time.Second)
	}

	if c.ColdResume.Store == "" {
		c.ColdResume.Store = ColdResumeStoreRedis
	}

	if c.Producer.Type == "" {
		c.Producer.Type = "none"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Configuration) Validate() error {
	if c.Token == "" {
		return ErrConfigMissingToken
	}

	if c.ClusterID < 0 {
		return ErrConfigMissingClusterID
	}

	if c.ShardCount <= 0 || c.ShardsPerCluster <= 0 {
		return fmt.Errorf("%w: shard_count %d, shards_per_cluster %d", ErrConfigInvalidShards, c.ShardCount, c.ShardsPerCluster)
	}

	if len(c.OwnedShardIDs()) == 0 {
		return ErrClusterMissingShards
	}

	switch c.ColdResume.Store {
	case ColdResumeStoreRedis, ColdResumeStoreFile:
	default:
		return fmt.Errorf("%w: unknown cold resume store %q", ErrConfigInvalid, c.ColdResume.Store)
	}

	return nil
}

// Identifier names the cluster in metrics, logs and the snapshot key.
func (c *Configuration) Identifier() string {
	return "cluster-" + strconv.Itoa(int(c.ClusterID))
}

// OwnedShardIDs returns the shards this cluster runs. An explicit shard_ids
// range wins over the contiguous block derived from cluster_id.
func (c *Configuration) OwnedShardIDs() []int32 {
	if strings.TrimSpace(c.ShardIDs) != "" {
		return returnRangeInt32(c.ShardIDs, c.ShardCount)
	}

	return clusterShardIDs(c.ClusterID, c.ShardsPerCluster, c.ShardCount)
}

// SlogLevel parses the configured level, falling back to info.
func (c *LoggingConfiguration) SlogLevel() slog.Level {
	var level slog.Level

	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}

	return level
}

type ConfigProvider interface {
	GetConfig(ctx context.Context) (*Configuration, error)
	SaveConfig(ctx context.Context, config *Configuration) error
}

// ConfigProviderFromPath is a basic config provider that reads and writes to a
// file. Files ending in .json are JSON, anything else is YAML.
type ConfigProviderFromPath struct {
	path string
}

func NewConfigProviderFromPath(path string) ConfigProviderFromPath {
	return ConfigProviderFromPath{path}
}

func (c ConfigProviderFromPath) isJSON() bool {
	return strings.EqualFold(filepath.Ext(c.path), ".json")
}

func (c ConfigProviderFromPath) GetConfig(_ context.Context) (*Configuration, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Configuration

	if c.isJSON() {
		err = gearboxjson.Unmarshal(data, &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	config.Defaults()

	slog.Info("Loaded config", "path", c.path, "cluster_id", config.ClusterID, "shard_count", config.ShardCount)

	return &config, nil
}

func (c ConfigProviderFromPath) SaveConfig(_ context.Context, config *Configuration) error {
	var (
		data []byte
		err  error
	)

	if c.isJSON() {
		data, err = gearboxjson.Marshal(config)
	} else {
		data, err = yaml.Marshal(config)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	slog.Info("Saving config", "path", c.path)

	return os.WriteFile(c.path, data, 0o600)
}
