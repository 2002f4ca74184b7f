package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

const (
	lockPrefix    = "lock:job:"
	lastRunPrefix = "job:last_run:"
	lastRunTTL    = 30 * 24 * time.Hour
)

// RedisJobLocker guards job runs with a Redis lock so only one scheduler
// replica runs a job at a time.
type RedisJobLocker struct {
	locker *redislock.Client
}

// NewRedisJobLocker creates the locker.
func NewRedisJobLocker(client redis.UniversalClient) *RedisJobLocker {
	return &RedisJobLocker{locker: redislock.New(client)}
}

// Run implements domain.JobLocker.
func (l *RedisJobLocker) Run(ctx context.Context, name domain.JobName, ttl time.Duration, fn func(ctx context.Context) error) error {
	key := lockPrefix + string(name)
	start := time.Now()
	lock, err := l.locker.Obtain(ctx, key, ttl, nil)
	metrics.ObserveNetworkRequest("redis", "lock_obtain", key, start, ignoreNotObtained(err))
	if errors.Is(err, redislock.ErrNotObtained) {
		return domain.ErrJobLocked
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}()
	return fn(ctx)
}

func ignoreNotObtained(err error) error {
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil
	}
	return err
}

// RedisJobRunStore keeps the last run of every job as JSON.
type RedisJobRunStore struct {
	client redis.UniversalClient
}

// NewRedisJobRunStore creates the store.
func NewRedisJobRunStore(client redis.UniversalClient) *RedisJobRunStore {
	return &RedisJobRunStore{client: client}
}

// SaveLastRun implements domain.JobRunStore.
func (s *RedisJobRunStore) SaveLastRun(ctx context.Context, run domain.JobRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	key := lastRunPrefix + string(run.Job)
	start := time.Now()
	err = s.client.Set(ctx, key, payload, lastRunTTL).Err()
	metrics.ObserveNetworkRequest("redis", "set", key, start, err)
	return err
}

// LastRun implements domain.JobRunStore.
func (s *RedisJobRunStore) LastRun(ctx context.Context, job domain.JobName) (domain.JobRun, bool, error) {
	key := lastRunPrefix + string(job)
	start := time.Now()
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", key, start, nil)
		return domain.JobRun{}, false, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", key, start, err)
	if err != nil {
		return domain.JobRun{}, false, err
	}
	var run domain.JobRun
	if err := json.Unmarshal(data, &run); err != nil {
		return domain.JobRun{}, false, fmt.Errorf("decode run: %w", err)
	}
	return run, true, nil
}

var (
	_ domain.JobLocker   = (*RedisJobLocker)(nil)
	_ domain.JobRunStore = (*RedisJobRunStore)(nil)
)
