package gearbox

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/WelcomerTeam/Gearbox/messaging"
)

// CommandPipeline receives messages from guilds whose cache is complete.
type CommandPipeline interface {
	Forward(ctx context.Context, shard *Shard, message *discord.MessageCreate, trace *Trace) error
}

type NoopPipeline struct{}

func (NoopPipeline) Forward(context.Context, *Shard, *discord.MessageCreate, *Trace) error {
	return nil
}

// ForwardedMetadata describes where a forwarded message came from.
type ForwardedMetadata struct {
	ClusterID     string            `json:"c"`
	ShardID       int32             `json:"s"`
	ShardCount    int32             `json:"n"`
	ApplicationID discord.Snowflake `json:"a"`
}

// ForwardedMessage is the envelope published for every forwarded message.
type ForwardedMessage struct {
	Metadata ForwardedMetadata       `json:"m"`
	Message  *discord.MessageCreate `json:"d"`
	Trace    Trace                  `json:"t,omitempty"`
}

// ProducerPipeline publishes forwarded messages through a messaging producer.
// The subject is the guild id, or "dm" for direct messages.
type ProducerPipeline struct {
	producer messaging.Producer
}

func NewProducerPipeline(producer messaging.Producer) *ProducerPipeline {
	return &ProducerPipeline{producer: producer}
}

func (p *ProducerPipeline) Forward(ctx context.Context, shard *Shard, message *discord.MessageCreate, trace *Trace) error {
	envelope := ForwardedMessage{
		Metadata: ForwardedMetadata{
			ClusterID:     shard.cluster.identifier,
			ShardID:       shard.ShardID,
			ShardCount:    shard.cluster.config.ShardCount,
			ApplicationID: shard.cluster.ApplicationID(),
		},
		Message: message,
	}

	if trace != nil {
		envelope.Trace = *trace
	}

	data, err := gearboxjson.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal forwarded message: %w", err)
	}

	err = p.producer.Publish(ctx, forwardSubject(ctx, message), data)
	if err != nil {
		return fmt.Errorf("failed to publish forwarded message: %w", err)
	}

	return nil
}

func forwardSubject(ctx context.Context, message *discord.MessageCreate) string {
	if guildID, ok := GuildIDFromContext(ctx); ok {
		return guildID.String()
	}

	if message.GuildID != nil {
		return message.GuildID.String()
	}

	return "dm"
}
