package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisOpTimeout bounds each Redis round trip so a slow cache backend can
// never stall the request pipeline for long.
const redisOpTimeout = 2 * time.Second

// RedisStore is a Store backed by Redis, letting several client processes
// share one response cache. Entries are JSON-marshalled; TTL is enforced by
// Redis itself, with the entry's own expiry double-checked on read.
//
// Backend errors are logged and reported as misses: a broken cache must
// degrade to direct upstream calls, never fail a request.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced with
// prefix to keep unrelated clients from colliding in a shared instance.
func NewRedisStore(redisClient *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "upstream"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
	}
}

// Get returns the entry for key, or false on miss, expiry, or backend error.
func (s *RedisStore) Get(key string) (*Entry, bool) {
	ctx, cancel := s.opContext()
	defer cancel()

	data, err := s.redis.Get(ctx, s.prefix+":"+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			cacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Msg("Redis cache get failed")
		}
		cacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		s.logger.Warn().Err(err).Msg("Corrupt Redis cache entry")
		s.Delete(key)
		cacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}

	if entry.IsExpired() {
		s.Delete(key)
		cacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}

	cacheHits.WithLabelValues("redis").Inc()
	return &entry, true
}

// Set stores entry under key for ttl.
func (s *RedisStore) Set(key string, entry *Entry, ttl time.Duration) {
	if entry == nil || ttl <= 0 {
		return
	}

	now := time.Now()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Msg("Marshal cache entry failed")
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.redis.Set(ctx, s.prefix+":"+key, data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Msg("Redis cache set failed")
	}
}

// Delete removes one entry.
func (s *RedisStore) Delete(key string) {
	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.redis.Del(ctx, s.prefix+":"+key).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		s.logger.Warn().Err(err).Msg("Redis cache delete failed")
	}
}

// Clear removes every entry under this store's prefix.
func (s *RedisStore) Clear() {
	ctx, cancel := s.opContext()
	defer cancel()

	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			cacheErrors.WithLabelValues("clear").Inc()
			s.logger.Warn().Err(err).Msg("Redis cache clear failed")
			return
		}
	}
	if err := iter.Err(); err != nil {
		cacheErrors.WithLabelValues("clear").Inc()
		s.logger.Warn().Err(err).Msg("Redis cache scan failed")
	}
}

// Len returns the number of entries under this store's prefix, or 0 on
// backend error.
func (s *RedisStore) Len() int {
	ctx, cancel := s.opContext()
	defer cancel()

	count := 0
	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

func (s *RedisStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}
