package store

import (
	"context"
	"sync"
	"time"

	dErrors "civicledger/pkg/domain-errors"
)

// numLedgerShards spreads keys over independent mutexes so unrelated
// subjects and voters never wait on each other.
const numLedgerShards = 128

// defaultLedgerTxTimeout bounds a transaction when the caller set no deadline.
const defaultLedgerTxTimeout = 5 * time.Second

// ShardedTx serializes transactions per key for stores that live inside this
// process (memory, file, LevelDB).
type ShardedTx struct {
	shards  [numLedgerShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// TxOption configures a ShardedTx.
type TxOption func(*ShardedTx)

// WithTxTimeout overrides the default transaction deadline.
func WithTxTimeout(d time.Duration) TxOption {
	return func(t *ShardedTx) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewShardedTx wraps store with per-key mutual exclusion.
func NewShardedTx(store Store, opts ...TxOption) *ShardedTx {
	t := &ShardedTx{store: store, timeout: defaultLedgerTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *ShardedTx) RunInTx(ctx context.Context, key string, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := hashLedgerKey(key) % numLedgerShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(t.store)
}

// hashLedgerKey is FNV-1a.
func hashLedgerKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
