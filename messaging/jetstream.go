package messaging

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func init() {
	Register("jetstream", func() Producer { return &JetStreamProducer{} })
}

type JetStreamProducer struct {
	conn   *nats.Conn
	client jetstream.JetStream
	stream jetstream.Stream

	channel string
}

func (p *JetStreamProducer) String() string {
	return "jetstream"
}

func (p *JetStreamProducer) Connect(ctx context.Context, clientName string, args map[string]any) error {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("jetstream connect: %w", err)
	}

	p.channel, err = stringEntry(args, "Channel")
	if err != nil {
		return fmt.Errorf("jetstream connect: %w", err)
	}

	p.conn, err = nats.Connect(address, nats.Name(clientName))
	if err != nil {
		return fmt.Errorf("jetstream connect nats: %w", err)
	}

	p.client, err = jetstream.New(p.conn)
	if err != nil {
		return fmt.Errorf("jetstream new: %w", err)
	}

	retention := jetstream.WorkQueuePolicy

	if interest, _ := strconv.ParseBool(fmt.Sprint(GetEntry(args, "InterestPolicy"))); interest {
		retention = jetstream.InterestPolicy
	}

	p.stream, err = p.client.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              p.channel,
		Subjects:          []string{p.channel + ".*"},
		Retention:         retention,
		Discard:           jetstream.DiscardOld,
		MaxAge:            5 * time.Minute,
		Storage:           jetstream.MemoryStorage,
		MaxMsgsPerSubject: 1_000_000,
		MaxMsgSize:        math.MaxInt32,
	})
	if err != nil {
		return fmt.Errorf("jetstream create stream: %w", err)
	}

	return nil
}

func (p *JetStreamProducer) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.client.Publish(ctx, p.channel+"."+subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to jetstream: %w", err)
	}

	return nil
}

func (p *JetStreamProducer) Close() error {
	if p.conn == nil {
		return nil
	}

	return p.conn.Drain()
}
