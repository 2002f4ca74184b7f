package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

// RedisEventQueue keeps job events in a Redis list.
type RedisEventQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisEventQueue creates a queue stored under key.
func NewRedisEventQueue(client redis.UniversalClient, key string) *RedisEventQueue {
	return &RedisEventQueue{client: client, key: key}
}

// Publish implements domain.EventPublisher.
func (q *RedisEventQueue) Publish(ctx context.Context, event domain.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Pop blocks until an event is available or ctx is done.
func (q *RedisEventQueue) Pop(ctx context.Context) (domain.JobEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.JobEvent{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.JobEvent{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.JobEvent{}, err
		}
		if len(res) != 2 {
			return domain.JobEvent{}, errors.New("redis queue: unexpected response")
		}
		var event domain.JobEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return domain.JobEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return event, nil
	}
}

var _ domain.EventPublisher = (*RedisEventQueue)(nil)
