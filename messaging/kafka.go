package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

func init() {
	Register("kafka", func() Producer { return &KafkaProducer{} })
}

type KafkaProducer struct {
	writer *kafka.Writer

	channel string
}

func ParseKafkaBalancer(balancer string) kafka.Balancer {
	switch balancer {
	case "crc32":
		return &kafka.CRC32Balancer{}
	case "hash":
		return &kafka.Hash{}
	case "murmur2":
		return &kafka.Murmur2Balancer{}
	case "roundrobin":
		return &kafka.RoundRobin{}
	case "leastbytes":
		return &kafka.LeastBytes{}
	default:
		return nil
	}
}

func (p *KafkaProducer) String() string {
	return "kafka"
}

func (p *KafkaProducer) Connect(_ context.Context, _ string, args map[string]any) error {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("kafka connect: %w", err)
	}

	p.channel, err = stringEntry(args, "Channel")
	if err != nil {
		return fmt.Errorf("kafka connect: %w", err)
	}

	balancer, _ := GetEntry(args, "Balancer").(string)
	async, _ := strconv.ParseBool(fmt.Sprint(GetEntry(args, "Async")))

	p.writer = &kafka.Writer{
		Addr:     kafka.TCP(address),
		Topic:    p.channel,
		Balancer: ParseKafkaBalancer(balancer),
		Async:    async,
	}

	return nil
}

// Publish writes to the configured topic, keyed by subject so one guild's
// messages stay on one partition.
func (p *KafkaProducer) Publish(ctx context.Context, subject string, data []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	if p.writer == nil {
		return nil
	}

	return p.writer.Close()
}
