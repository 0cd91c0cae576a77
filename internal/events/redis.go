package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans events out over Redis pub/sub. The UI edge (out of
// scope here) subscribes per user channel and forwards to connected
// clients.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func channelFor(userID string) string {
	return "dialer:events:" + userID
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.UserID == "" || e.Kind == "" {
		return fmt.Errorf("events: user_id and kind are required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, channelFor(e.UserID), payload).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}
