package rules

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel carries rules invalidations between processes.
const DefaultChannel = "padcheck:rules:invalidate"

// RedisPublisher publishes the new version number on a redis channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) PublishInvalidation(ctx context.Context, version int64) error {
	return p.client.Publish(ctx, p.channel, strconv.FormatInt(version, 10)).Err()
}

// Watch invalidates the provider whenever a message arrives on channel.
// It returns when ctx is cancelled.
func (p *Provider) Watch(ctx context.Context, client redis.UniversalClient, channel string) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	p.logger.Info("Watching rules invalidations", zap.String("channel", channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p.logger.Info("Rules invalidation received", zap.String("version", msg.Payload))
			p.Invalidate()
		}
	}
}
