package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/hutgate/util"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in Redis, standalone or cluster.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// OpenRedis builds a client from the cache configuration and checks that the
// server answers.
func OpenRedis(ctx context.Context, conf util.CacheConfig) (*RedisCache, error) {
	var client redis.UniversalClient
	if conf.IsCluster {
		opts, err := redis.ParseClusterURL(conf.Dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing cache dsn: %w", err)
		}
		opts.PoolSize = conf.MaxConnections
		client = redis.NewClusterClient(opts)
	} else {
		opts, err := redis.ParseURL(conf.Dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing cache dsn: %w", err)
		}
		opts.PoolSize = conf.MaxConnections
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return NewRedisCache(client), nil
}

func (r *RedisCache) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := r.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (r *RedisCache) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key.String(), value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, key.String()).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
