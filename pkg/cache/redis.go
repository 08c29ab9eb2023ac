package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects to a shared redis so several client processes of the
// same volunteer can reuse one another's snapshots.
func NewRedis(ctx context.Context, cfg RedisConfig) (Cache, func() error, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return &redisCache{rdb: rdb, prefix: cfg.Prefix}, rdb.Close, nil
}

func (r *redisCache) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *redisCache) Get(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (r *redisCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.rdb.Set(ctx, r.key(key), data, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}
