package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events as JSON on Redis pub/sub channels so that
// other service instances and gateways can relay them. Every event goes to
// "<prefix>:doc:<documentID>" and is repeated on "<prefix>:user:<userID>" for
// each recipient.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "collab"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// DocumentChannel returns the channel events of documentID are published on.
func (p *RedisPublisher) DocumentChannel(documentID string) string {
	return p.prefix + ":doc:" + documentID
}

// UserChannel returns the channel events addressed to userID are repeated on.
func (p *RedisPublisher) UserChannel(userID string) string {
	return p.prefix + ":user:" + userID
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	if err := p.client.Publish(ctx, p.DocumentChannel(e.DocumentID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	for _, r := range e.Recipients {
		if err := p.client.Publish(ctx, p.UserChannel(r), payload).Err(); err != nil {
			return fmt.Errorf("publish %s event to %s: %w", e.Type, r, err)
		}
	}
	return nil
}
