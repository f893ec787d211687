package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

func init() {
	Register("redis", func() Producer { return &RedisProducer{} })
}

// RedisProducer publishes with redis PUBLISH. Subscribers that are not
// connected at publish time miss the message.
type RedisProducer struct {
	client *redis.Client

	channel string
}

func (p *RedisProducer) String() string {
	return "redis"
}

func (p *RedisProducer) Connect(ctx context.Context, _ string, args map[string]any) error {
	address, err := stringEntry(args, "Address")
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}

	p.channel, err = stringEntry(args, "Channel")
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}

	password, _ := GetEntry(args, "Password").(string)

	var db int

	if rawDB := GetEntry(args, "DB"); rawDB != nil {
		db, err = strconv.Atoi(fmt.Sprint(rawDB))
		if err != nil {
			return fmt.Errorf("redis connect db atoi: %w", err)
		}
	}

	p.client = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	err = p.client.Ping(ctx).Err()
	if err != nil {
		_ = p.client.Close()

		return fmt.Errorf("redis connect ping: %w", err)
	}

	return nil
}

func (p *RedisProducer) Publish(ctx context.Context, subject string, data []byte) error {
	err := p.client.Publish(ctx, p.channel+"."+subject, data).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}

func (p *RedisProducer) Close() error {
	if p.client == nil {
		return nil
	}

	return p.client.Close()
}
