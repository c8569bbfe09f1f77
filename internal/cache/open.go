package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"brewline.io/internal/rbac"
)

// Open picks the decision cache for the process. A zero ttl disables caching
// even when redisURL is set, since Redis entries would then never expire.
// With redisURL set the cache is shared through Redis and the returned client
// belongs to the caller; otherwise it is an in-process LRU.
func Open(ctx context.Context, redisURL string, size int, ttl time.Duration) (rbac.DecisionCache, *redis.Client, error) {
	switch {
	case ttl <= 0:
		return nil, nil, nil
	case redisURL != "":
		client, err := DialRedis(ctx, redisURL)
		if err != nil {
			return nil, nil, err
		}
		return NewRedis(client, ttl, ""), client, nil
	default:
		return NewLRU(size, ttl), nil, nil
	}
}
