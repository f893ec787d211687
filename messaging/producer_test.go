package messaging_test

import (
	"context"
	"testing"

	"github.com/WelcomerTeam/Gearbox/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	t.Parallel()

	assert.Subset(t, messaging.Names(), []string{"jetstream", "kafka", "redis", "stan"})
}

func TestNewProducer(t *testing.T) {
	t.Parallel()

	producer, err := messaging.NewProducer("KAFKA")
	require.NoError(t, err)
	assert.Equal(t, "kafka", producer.String())

	_, err = messaging.NewProducer("carrier-pigeon")
	assert.ErrorIs(t, err, messaging.ErrUnknownProducer)
}

func TestGetEntry(t *testing.T) {
	t.Parallel()

	args := map[string]any{"address": "localhost:4222"}

	assert.Equal(t, "localhost:4222", messaging.GetEntry(args, "Address"))
	assert.Nil(t, messaging.GetEntry(args, "Channel"))
}

func TestParseKafkaBalancer(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &kafka.Hash{}, messaging.ParseKafkaBalancer("hash"))
	assert.IsType(t, &kafka.RoundRobin{}, messaging.ParseKafkaBalancer("roundrobin"))
	assert.Nil(t, messaging.ParseKafkaBalancer(""))
}

func TestKafkaConnectRequiresAddress(t *testing.T) {
	t.Parallel()

	producer, err := messaging.NewProducer("kafka")
	require.NoError(t, err)

	err = producer.Connect(context.Background(), "gearbox", map[string]any{"Channel": "gearbox"})
	require.Error(t, err)

	err = producer.Connect(context.Background(), "gearbox", map[string]any{"Address": "localhost:9092", "Channel": "gearbox"})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}
