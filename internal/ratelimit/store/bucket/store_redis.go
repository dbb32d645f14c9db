package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"civicledger/internal/ratelimit/models"
)

// RedisBucketStore keeps one sorted set per key, scored by request time in
// milliseconds, so every replica shares the same windows.
type RedisBucketStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisBucketStore creates a Redis-backed bucket store.
func NewRedisBucketStore(client redis.Cmdable) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// Allow trims the window, counts, and records the request when there is
// room. The count and the insert are not atomic, so concurrent callers may
// overshoot the limit by a request or two.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	cutoff := now.Add(-window).UnixMilli()

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		count = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}

	resetAt := now.Add(window)
	if first := oldest.Val(); len(first) > 0 {
		resetAt = time.UnixMilli(int64(first[0].Score)).Add(window)
	}

	used := int(count.Val())
	if used >= limit {
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record request: %w", err)
	}
	if used == 0 {
		resetAt = now.Add(window)
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - used - 1,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the bucket for key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
