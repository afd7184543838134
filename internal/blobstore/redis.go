package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kogb:"

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore maps each container onto a Redis hash.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the Redis server.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(container string) string {
	return redisKeyPrefix + container
}

func (s *RedisStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	data, err := s.client.HGet(ctx, redisKey(container), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", container, key, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, container, key string, data []byte) error {
	if err := s.client.HSet(ctx, redisKey(container), key, data).Err(); err != nil {
		return fmt.Errorf("redis put %s/%s: %w", container, key, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, container, key string) (bool, error) {
	ok, err := s.client.HExists(ctx, redisKey(container), key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s/%s: %w", container, key, err)
	}
	return ok, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
