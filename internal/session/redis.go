package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neuroscan-portal/internal/domain"
)

const redisKeyPrefix = "neuroscan:session:"

// RedisStorage keeps each session as one Redis hash with a TTL
type RedisStorage struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(cfg domain.SessionConfig) (*RedisStorage, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, cfg.TTL), nil
}

// NewRedisStorageFromClient wraps an existing client
func NewRedisStorageFromClient(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		redis: client,
		ttl:   ttl,
	}
}

func (r *RedisStorage) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Set writes all fields and refreshes the TTL inside one MULTI/EXEC
func (r *RedisStorage) Set(ctx context.Context, sessionID string, fields map[string]string) error {
	key := r.key(sessionID)
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Get returns the session's fields, empty when the session is unknown
func (r *RedisStorage) Get(ctx context.Context, sessionID string) (map[string]string, error) {
	fields, err := r.redis.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return fields, nil
}

// Clear deletes the session hash
func (r *RedisStorage) Clear(ctx context.Context, sessionID string) error {
	if err := r.redis.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (r *RedisStorage) Close() error {
	return r.redis.Close()
}
