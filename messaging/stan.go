package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
)

func init() {
	Register("stan", func() Producer { return &StanProducer{} })
}

type StanProducer struct {
	natsConn *nats.Conn
	stanConn stan.Conn

	async bool

	channel string
	cluster string
}

func (p *StanProducer) String() string {
	return "stan"
}

func (p *StanProducer) Connect(_ context.Context, clientName string, args map[string]any) error {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("stan connect: %w", err)
	}

	p.cluster, err = stringEntry(args, "Cluster")
	if err != nil {
		return fmt.Errorf("stan connect: %w", err)
	}

	p.channel, err = stringEntry(args, "Channel")
	if err != nil {
		return fmt.Errorf("stan connect: %w", err)
	}

	p.async, _ = strconv.ParseBool(fmt.Sprint(GetEntry(args, "Async")))

	p.natsConn, err = nats.Connect(address, nats.Name(clientName))
	if err != nil {
		return fmt.Errorf("stan connect nats: %w", err)
	}

	p.stanConn, err = stan.Connect(p.cluster, clientName, stan.NatsConn(p.natsConn))
	if err != nil {
		return fmt.Errorf("stan connect: %w", err)
	}

	return nil
}

func (p *StanProducer) Publish(_ context.Context, subject string, data []byte) error {
	channel := p.channel + "." + subject

	var err error

	if p.async {
		_, err = p.stanConn.PublishAsync(channel, data, nil)
	} else {
		err = p.stanConn.Publish(channel, data)
	}

	if err != nil {
		return fmt.Errorf("failed to publish to stan: %w", err)
	}

	return nil
}

func (p *StanProducer) Close() error {
	var err error

	if p.stanConn != nil {
		err = p.stanConn.Close()
	}

	if p.natsConn != nil {
		p.natsConn.Close()
	}

	return err
}
