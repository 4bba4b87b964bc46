package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"

	"digest_server/core/domain"
	"digest_server/core/port/out"
)

// StreamTriggers carries manual run requests from the ops API to the worker.
const StreamTriggers = "digest:triggers"

// RedisProducer publishes run triggers onto the digest trigger stream.
type RedisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

func (p *RedisProducer) PublishRun(ctx context.Context, trigger *domain.RunTrigger) error {
	return p.publish(ctx, StreamTriggers, trigger)
}

func (p *RedisProducer) publish(ctx context.Context, streamName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		ID:     "*",
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", streamName, err)
	}

	return nil
}

var _ out.TriggerProducer = (*RedisProducer)(nil)
