package gearbox

import (
	"context"
	"testing"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingProducer struct {
	subject string
	data    []byte
}

func (p *capturingProducer) String() string { return "capture" }

func (p *capturingProducer) Connect(context.Context, string, map[string]any) error { return nil }

func (p *capturingProducer) Publish(_ context.Context, subject string, data []byte) error {
	p.subject = subject
	p.data = data

	return nil
}

func (p *capturingProducer) Close() error { return nil }

func TestProducerPipelineEnvelope(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 230, nil)
	cluster.setUser(&discord.User{ID: 1})

	producer := &capturingProducer{}
	pipeline := NewProducerPipeline(producer)

	guildID := discord.Snowflake(123)
	message := &discord.MessageCreate{ID: 5, GuildID: &guildID, Content: "!ping", Author: discord.User{ID: 2}}

	trace := NewTrace().Set("receive", 10)

	require.NoError(t, pipeline.Forward(context.Background(), shard, message, trace))
	assert.Equal(t, "123", producer.subject)

	var envelope ForwardedMessage
	require.NoError(t, gearboxjson.Unmarshal(producer.data, &envelope))

	assert.Equal(t, ForwardedMetadata{ClusterID: "cluster-230", ShardID: 0, ShardCount: 1, ApplicationID: 1}, envelope.Metadata)
	assert.Equal(t, "!ping", envelope.Message.Content)
	assert.Equal(t, int64(10), envelope.Trace["receive"])

	require.NoError(t, pipeline.Forward(context.Background(), shard, &discord.MessageCreate{ID: 6}, nil))
	assert.Equal(t, "dm", producer.subject)
}
