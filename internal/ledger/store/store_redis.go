package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"civicledger/internal/ledger/models"
	"civicledger/pkg/platform/sentinel"
)

var redisTxConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "civic_ledger_redis_tx_conflicts_total",
	Help: "Ledger transactions retried because a WATCHed key changed",
})

const (
	redisRecordsKey     = "ledger:records"
	redisIndexKeyPrefix = "ledger:idx:"
	redisMaxTxRetries   = 3
)

// RedisStore shares the ledger between service instances. Records are a
// Redis list in insertion order; each (subject, voter hash) pair has an index
// key holding its record.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore constructs a Redis-backed ledger. The client lifecycle is
// managed by the caller.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func redisIndexKey(key string) string {
	return redisIndexKeyPrefix + key
}

func (s *RedisStore) Append(ctx context.Context, rec *models.VoteRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return queueAppend(ctx, pipe, rec)
	})
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func queueAppend(ctx context.Context, pipe redis.Pipeliner, rec *models.VoteRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	pipe.RPush(ctx, redisRecordsKey, value)
	pipe.Set(ctx, redisIndexKey(models.Key(rec.SubjectID, rec.VoterHash)), value, 0)
	return nil
}

func (s *RedisStore) FindBySubjectAndVoterHash(ctx context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	return findRedis(ctx, s.client, s.logger, subjectID, voterHash)
}

func (s *RedisStore) All(ctx context.Context) ([]*models.VoteRecord, error) {
	return allRedis(ctx, s.client, s.logger)
}

// RunInTx WATCHes the pair's index key, runs fn against a view of the
// transaction and commits queued appends with MULTI/EXEC. A concurrent write
// to the same key aborts EXEC and the whole function is retried.
func (s *RedisStore) RunInTx(ctx context.Context, key string, fn func(store Store) error) error {
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			view := &redisTxView{tx: tx, logger: s.logger}
			if err := fn(view); err != nil {
				return err
			}
			if len(view.pending) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, rec := range view.pending {
					if err := queueAppend(ctx, pipe, rec); err != nil {
						return err
					}
				}
				return nil
			})
			return err
		}, redisIndexKey(key))
		if errors.Is(err, redis.TxFailedErr) {
			redisTxConflicts.Inc()
			time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("ledger transaction for %q: %w", key, sentinel.ErrUnavailable)
}

// redisTxView reads through the WATCHing connection and defers appends to
// the MULTI block.
type redisTxView struct {
	tx      *redis.Tx
	logger  *slog.Logger
	pending []*models.VoteRecord
}

func (v *redisTxView) Append(_ context.Context, rec *models.VoteRecord) error {
	cp := *rec
	v.pending = append(v.pending, &cp)
	return nil
}

func (v *redisTxView) FindBySubjectAndVoterHash(ctx context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	return findRedis(ctx, v.tx, v.logger, subjectID, voterHash)
}

func (v *redisTxView) All(ctx context.Context) ([]*models.VoteRecord, error) {
	return allRedis(ctx, v.tx, v.logger)
}

func findRedis(ctx context.Context, c redis.Cmdable, logger *slog.Logger, subjectID, voterHash string) (*models.VoteRecord, error) {
	value, err := c.Get(ctx, redisIndexKey(models.Key(subjectID, voterHash))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	var rec models.VoteRecord
	if err := json.Unmarshal(value, &rec); err != nil || !rec.Valid() {
		logger.Warn("corrupt ledger index entry", "subject_id", subjectID, "error", err)
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

func allRedis(ctx context.Context, c redis.Cmdable, logger *slog.Logger) ([]*models.VoteRecord, error) {
	values, err := c.LRange(ctx, redisRecordsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records := make([]*models.VoteRecord, 0, len(values))
	for i, value := range values {
		var rec models.VoteRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil || !rec.Valid() {
			logger.Warn("skipping corrupt ledger entry", "position", i, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}
