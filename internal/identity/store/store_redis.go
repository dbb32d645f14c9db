package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"civicledger/pkg/platform/sentinel"
)

const sessionKeyPrefix = "identity:"

// RedisKV stores session values as plain Redis strings so several service
// instances can share sessions.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (s *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, sessionKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get session value: %w", err)
	}
	return v, nil
}

func (s *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, sessionKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set session value: %w", err)
	}
	return nil
}
