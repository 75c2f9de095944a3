package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChannel fans messages out with Redis PUBLISH/SUBSCRIBE.
type RedisChannel struct {
	rdb *redis.Client
}

func NewRedisChannel(rdb *redis.Client) *RedisChannel {
	return &RedisChannel{rdb: rdb}
}

func (c *RedisChannel) Publish(ctx context.Context, channel string, data []byte) error {
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed so no message published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			handler([]byte(msg.Payload))
		}
	}()
	return ps, nil
}
