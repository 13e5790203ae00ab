package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "trustd:proof-jti:"

// RedisCache is a shared seen-set backed by redis SET NX with expiry. Use
// this when more than one service instance can validate proofs: the NX write
// is atomic on the server, so concurrent presentations of the same proof to
// different instances still elect exactly one winner.
type RedisCache struct {
	client *redis.Client
}

// RedisConfig holds the redis connection settings for the shared seen-set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to redis and verifies the connection before
// returning. A dead backend at startup is a configuration error, not
// something to discover on the first proof.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("replay: redis connection failed: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) MarkSeen(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	first, err := c.client.SetNX(ctx, redisKeyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: redis setnx failed: %w", err)
	}
	return first, nil
}

// Ping reports backend health for the readiness probe.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }
