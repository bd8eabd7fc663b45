package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend reports queue depth for a Redis-list-backed job queue
// (the common Bull/Bee-queue shape: pending/active/failed/delayed
// sorted sets or lists keyed under a queue name prefix). Grounded on
// github.com/redis/go-redis/v9, sourced from the pack's
// DataDog-datadog-agent/go.mod.
type RedisBackend struct {
	client      *redis.Client
	queuePrefix string
	timeout     time.Duration
}

// NewRedisBackend wraps an existing *redis.Client. queuePrefix is the
// key prefix the job package stores its lists/sorted-sets under, e.g.
// "bull:default".
func NewRedisBackend(client *redis.Client, queuePrefix string, timeout time.Duration) *RedisBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisBackend{client: client, queuePrefix: queuePrefix, timeout: timeout}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) IsAvailable() bool { return b.client != nil }

func (b *RedisBackend) QueueStats() (QueueStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	pending, err := b.client.LLen(ctx, b.queuePrefix+":wait").Result()
	if err != nil && err != redis.Nil {
		return QueueStats{}, err
	}
	running, err := b.client.LLen(ctx, b.queuePrefix+":active").Result()
	if err != nil && err != redis.Nil {
		return QueueStats{}, err
	}
	failed, err := b.client.ZCard(ctx, b.queuePrefix+":failed").Result()
	if err != nil && err != redis.Nil {
		return QueueStats{}, err
	}
	scheduled, err := b.client.ZCard(ctx, b.queuePrefix+":delayed").Result()
	if err != nil && err != redis.Nil {
		return QueueStats{}, err
	}

	// Redis list entries carry no enqueue timestamp by default, so
	// oldest-pending age is left unset for this backend.
	return QueueStats{
		Pending:   pending,
		Running:   running,
		Failed:    failed,
		Scheduled: scheduled,
	}, nil
}
