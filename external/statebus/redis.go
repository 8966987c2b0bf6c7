package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher keeps the latest state notification under a key and
// publishes every notification on a channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	key     string
}

func NewRedisPublisher(client redis.UniversalClient, channel, key string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, key: key}
}

func (p *RedisPublisher) Send(ctx context.Context, n session.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal state notification: %w", err)
	}
	payload := string(b)
	if err := p.client.Set(ctx, p.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", p.key, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", p.channel, err)
	}
	return nil
}

// Latest returns the last published notification, or nil when none was
// stored yet.
func (p *RedisPublisher) Latest(ctx context.Context) (*session.Notification, error) {
	val, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", p.key, err)
	}
	var n session.Notification
	if err := json.Unmarshal([]byte(val), &n); err != nil {
		return nil, fmt.Errorf("decode stored state notification: %w", err)
	}
	return &n, nil
}

func (p *RedisPublisher) Shutdown() error {
	return p.client.Close()
}
