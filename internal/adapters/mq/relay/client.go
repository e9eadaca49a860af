package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client is the slice of Redis pub/sub the relay needs.
type Client interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Close() error
}

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
	Err     error
}

// RedisClient adapts go-redis to Client.
type RedisClient struct {
	rdb *redis.Client
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// Publish implements Client.
func (c *RedisClient) Publish(ctx context.Context, channel string, message any) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe implements Client. The returned channel closes when ctx ends.
func (c *RedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	ps := c.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: m.Channel, Payload: m.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Client.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
