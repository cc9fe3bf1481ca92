package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/meghashyamc/placefinder/logger"
	"github.com/redis/go-redis/v9"
)

// Redis shares a cache between service instances. Redis expires keys on its own,
// but the stored insertion time is still checked against the cache's clock so the
// TTL semantics match Memory exactly.
type Redis[T any] struct {
	client *redis.Client
	prefix string
	opts   Options
	logger logger.Logger
}

func NewRedis[T any](client *redis.Client, logger logger.Logger, prefix string, opts Options) *Redis[T] {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &Redis[T]{
		client: client,
		prefix: prefix,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("could not read from redis cache, treating as miss", "cache", r.opts.Name, "key", key, "err", err.Error())
		}
		r.opts.Metrics.ObserveCacheLookup(r.opts.Name, resultMiss)
		return zero, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("could not decode redis cache entry, treating as miss", "cache", r.opts.Name, "key", key, "err", err.Error())
		r.opts.Metrics.ObserveCacheLookup(r.opts.Name, resultMiss)
		return zero, false
	}

	if entry.expired(r.opts.Clock.Now(), r.opts.TTL) {
		if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
			r.logger.Warn("could not delete expired redis cache entry", "cache", r.opts.Name, "key", key, "err", err.Error())
		}
		r.opts.Metrics.ObserveCacheLookup(r.opts.Name, resultExpired)
		return zero, false
	}

	r.opts.Metrics.ObserveCacheLookup(r.opts.Name, resultHit)
	return entry.Value, true
}

func (r *Redis[T]) Set(ctx context.Context, key string, value T) {
	data, err := json.Marshal(Entry[T]{Value: value, InsertedAt: r.opts.Clock.Now()})
	if err != nil {
		r.logger.Error("could not encode redis cache entry", "cache", r.opts.Name, "key", key, "err", err.Error())
		return
	}
	if err := r.client.Set(ctx, r.key(key), data, r.opts.TTL).Err(); err != nil {
		r.logger.Warn("could not write to redis cache", "cache", r.opts.Name, "key", key, "err", err.Error())
	}
}

func (r *Redis[T]) key(key string) string {
	return r.prefix + key
}
