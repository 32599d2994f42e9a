package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
)

const channelPrefix = "shopstock:events:"

// AllChannel carries every event regardless of name.
const AllChannel = channelPrefix + "all"

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channelPrefix+event.Name, payload).Err(); err != nil {
		return err
	}
	return p.client.Publish(ctx, AllChannel, payload).Err()
}

// RelayRedis forwards every event published by any instance into the local
// hub until ctx is cancelled.
func RelayRedis(ctx context.Context, client *redis.Client, hub *Hub, logger logrus.FieldLogger) {
	sub := client.Subscribe(ctx, AllChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Warn("redis event subscription closed")
				return
			}
			hub.Broadcast([]byte(msg.Payload))
		}
	}
}
