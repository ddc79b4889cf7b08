package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRunGuard claims window keys with SET NX so that replicas sharing a
// Redis instance run each fulfillment window once.
type RedisRunGuard struct {
	Client *redis.Client
}

func (g RedisRunGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops a claimed key so a later tick in the same window can retry.
func (g RedisRunGuard) Release(ctx context.Context, key string) error {
	return g.Client.Del(ctx, key).Err()
}
