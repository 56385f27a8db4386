package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every Redis key written by RedisStorage.
const DefaultNamespace = "botdash:cache"

// RedisStorage keeps stores in Redis so proxy replicas share them.
//
// Layout:
//
//	<ns>:stores            SET of store names
//	<ns>:store:<name>      HASH of request URL -> JSON entry
type RedisStorage struct {
	redis     *redis.Client
	namespace string
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a storage backed by the given Redis client.
func NewRedisStorage(redisClient *redis.Client, namespace string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStorage{
		redis:     redisClient,
		namespace: namespace,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.namespace + ":stores"
}

func (s *RedisStorage) storeKey(name string) string {
	return s.namespace + ":store:" + name
}

// Open registers the store name and returns a handle to it.
func (s *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}
	if err := s.redis.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisStore{storage: s, name: name, key: s.storeKey(name)}, nil
}

// Has reports whether the store name is registered.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.redis.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		CacheErrors.WithLabelValues("has").Inc()
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Keys returns all registered store names, sorted.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete drops the store hash and its registration in one transaction.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.storeKey(name))
		removed = pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete_store").Inc()
		return false, fmt.Errorf("redis delete store %s: %w", name, err)
	}
	existed := removed.Val() > 0
	if existed {
		StoresDeleted.Inc()
	}
	return existed, nil
}

// Ping checks the Redis connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

type redisStore struct {
	storage *RedisStorage
	name    string
	key     string
}

func (r *redisStore) Name() string { return r.name }

// Match retrieves an entry by request key.
// Returns ErrCacheMiss if the key doesn't exist.
func (r *redisStore) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := r.storage.redis.HGet(ctx, r.key, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(r.name).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(r.name).Inc()
	return &entry, nil
}

// Put stores an entry; the last write for a key wins.
func (r *redisStore) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	// Re-register the name with the write, so a write racing Delete leaves
	// a listed store behind rather than an orphaned hash.
	_, err = r.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.storage.namesKey(), r.name)
		pipe.HSet(ctx, r.key, key, data)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis put %s: %w", r.name, err)
	}

	CacheWrites.WithLabelValues(r.name).Inc()
	CacheWriteBytes.WithLabelValues(r.name).Add(float64(len(data)))
	return nil
}

// Delete removes a single entry.
func (r *redisStore) Delete(ctx context.Context, key string) error {
	if err := r.storage.redis.HDel(ctx, r.key, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Keys lists the request keys in the store, sorted.
func (r *redisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.storage.redis.HKeys(ctx, r.key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
