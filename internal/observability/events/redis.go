package events

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a Redis pub/sub channel. Subscribers of
// "<channel>" receive every route; "<channel>:<routeID>" carries one route.
type RedisSink struct {
	client  redis.Cmdable
	channel string
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client redis.Cmdable, channel string) *RedisSink {
	if channel == "" {
		channel = "openroute:events"
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, routeID string, payload []byte) error {
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel+":"+routeID, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
