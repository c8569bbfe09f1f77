package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"brewline.io/internal/rbac"
)

// Redis is a decision cache shared between API replicas. Entries are keyed
// under a per-organization generation; invalidation bumps the generation and
// lets the old entries expire. A result computed under an old generation is
// written under that generation, where no reader will look for it.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ rbac.DecisionCache = (*Redis)(nil)

// DialRedis connects to url and checks the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps client. prefix namespaces every key; it defaults to "rbac".
func NewRedis(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "rbac"
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

func (c *Redis) generationKey(organizationID string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, organizationID)
}

// Version returns the organization's generation.
func (c *Redis) Version(ctx context.Context, organizationID string) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(organizationID)).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return gen, nil
}

func (c *Redis) entryKey(key rbac.DecisionKey, gen uint64) string {
	return fmt.Sprintf("%s:decision:%d:%s", c.prefix, gen, key)
}

func (c *Redis) Get(ctx context.Context, key rbac.DecisionKey, version uint64) (rbac.CheckResult, bool, error) {
	k := c.entryKey(key, version)
	data, err := c.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return rbac.CheckResult{}, false, nil
	}
	if err != nil {
		return rbac.CheckResult{}, false, fmt.Errorf("redis get failed: %w", err)
	}
	var res rbac.CheckResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.client.Del(ctx, k)
		return rbac.CheckResult{}, false, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	if res.MatchedPermissionIDs == nil {
		res.MatchedPermissionIDs = []string{}
	}
	return res, true, nil
}

func (c *Redis) Set(ctx context.Context, key rbac.DecisionKey, version uint64, res rbac.CheckResult) error {
	k := c.entryKey(key, version)
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	if err := c.client.Set(ctx, k, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *Redis) InvalidateOrganization(ctx context.Context, organizationID string) error {
	if err := c.client.Incr(ctx, c.generationKey(organizationID)).Err(); err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}
	return nil
}

// Ping checks connectivity; the readiness probe uses it.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
