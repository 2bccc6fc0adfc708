package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/notify"
)

const channelPrefix = "relay:events:"

// Channel returns the pub/sub channel carrying chatID's events.
func Channel(chatID int64) string {
	return fmt.Sprintf("%s%d", channelPrefix, chatID)
}

// RedisPublisher publishes events to Redis so every instance's hub sees
// them. It implements notify.Publisher.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.Publish(ctx, Channel(ev.ChatID), data).Err()
}

// Subscribe pumps events from every chat channel into hub until ctx is
// done.
func Subscribe(ctx context.Context, client *redis.Client, hub *Hub) error {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	log := logger.Default().WithComponent("feed")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Debug(ctx, "dropping malformed event", map[string]interface{}{"channel": msg.Channel})
				continue
			}
			if err := hub.Publish(ctx, ev); err != nil {
				return nil
			}
		}
	}
}
