package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes events with Redis PUBLISH so any number of gateway
// processes can relay them to browsers.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBus(rdb *redis.Client, prefix string) *RedisBus {
	return &RedisBus{rdb: rdb, prefix: prefix}
}

// ChannelName returns the Redis channel an event channel is published on.
func (b *RedisBus) ChannelName(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return b.prefix + ":" + channel
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Name, err)
	}
	if err := b.rdb.Publish(ctx, b.ChannelName(ev.Channel), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Name, err)
	}
	return nil
}
