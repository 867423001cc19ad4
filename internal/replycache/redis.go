package replycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces reply keys in a shared Redis
const DefaultKeyPrefix = "osip:reply:"

// RedisClient is the part of *redis.Client the cache needs
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis keeps replies in Redis so every instance consuming a queue sees them
type Redis struct {
	client RedisClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures the Redis cache
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a Redis backed cache with entries living for ttl
func NewRedis(client RedisClient, ttl time.Duration, options ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Get implements messaging.ReplyCache
func (r *Redis) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	reply, err := r.client.Get(ctx, r.prefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached reply: %w", err)
	}
	return reply, true, nil
}

// Set implements messaging.ReplyCache
func (r *Redis) Set(ctx context.Context, fingerprint string, reply []byte) error {
	if err := r.client.Set(ctx, r.prefix+fingerprint, reply, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	return nil
}

// NewClient connects to Redis and checks the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
