package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "github.com/lib/pq"

	"civicledger/internal/identity"
	identitystore "civicledger/internal/identity/store"
	ledgerstore "civicledger/internal/ledger/store"
	"civicledger/internal/platform/config"
	platformredis "civicledger/internal/platform/redis"
	httptransport "civicledger/internal/transport/http"
)

// backend is the storage the ledger and the session values run on.
type backend struct {
	store   ledgerstore.Store
	tx      ledgerstore.Tx
	kv      identity.KV
	health  map[string]httptransport.HealthCheck
	redis   *platformredis.Client // nil unless a Redis URL is configured
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{health: map[string]httptransport.HealthCheck{}}
	txOpts := []ledgerstore.TxOption{ledgerstore.WithTxTimeout(cfg.Ledger.TxTimeout)}

	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		st := ledgerstore.NewInMemoryStore()
		b.store, b.tx = st, ledgerstore.NewShardedTx(st, txOpts...)
		b.kv = identitystore.NewInMemoryKV()

	case config.BackendFile:
		st, err := ledgerstore.OpenFileStore(cfg.Ledger.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open file ledger: %w", err)
		}
		b.closers = append(b.closers, st.Close)
		b.store, b.tx = st, ledgerstore.NewShardedTx(st, txOpts...)
		if err := b.openLevelDBSessions(cfg.Ledger.DataDir); err != nil {
			_ = b.Close()
			return nil, err
		}

	case config.BackendLevelDB:
		st, err := ledgerstore.OpenLevelDBStore(filepath.Join(cfg.Ledger.DataDir, "ledger"), logger)
		if err != nil {
			return nil, fmt.Errorf("open leveldb ledger: %w", err)
		}
		b.closers = append(b.closers, st.Close)
		b.store, b.tx = st, ledgerstore.NewShardedTx(st, txOpts...)
		if err := b.openLevelDBSessions(cfg.Ledger.DataDir); err != nil {
			_ = b.Close()
			return nil, err
		}

	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.health["redis"] = client.Health
		b.redis = client
		st := ledgerstore.NewRedisStore(client.Client, logger)
		b.store, b.tx = st, st
		b.kv = identitystore.NewRedisKV(client.Client)

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		b.health["postgres"] = db.PingContext
		st := ledgerstore.NewPostgresStore(db,
			ledgerstore.WithPostgresTable(cfg.Postgres.Table),
			ledgerstore.WithPostgresTxTimeout(cfg.Ledger.TxTimeout),
		)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		b.store, b.tx = st, st
		if err := b.openRedisSessions(ctx, cfg); err != nil {
			_ = b.Close()
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	return b, nil
}

func (b *backend) openLevelDBSessions(dataDir string) error {
	kv, err := identitystore.OpenLevelDBKV(filepath.Join(dataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	b.closers = append(b.closers, kv.Close)
	b.kv = kv
	return nil
}

// Postgres deployments keep sessions in Redis when one is configured and in
// memory otherwise.
func (b *backend) openRedisSessions(ctx context.Context, cfg config.Config) error {
	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		b.kv = identitystore.NewInMemoryKV()
		return nil
	}
	b.closers = append(b.closers, client.Close)
	b.health["redis"] = client.Health
	b.redis = client
	b.kv = identitystore.NewRedisKV(client.Client)
	return nil
}
