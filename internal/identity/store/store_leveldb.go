package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"

	"civicledger/pkg/platform/sentinel"
)

// LevelDBKV persists session values in a LevelDB directory so they survive
// restarts.
type LevelDBKV struct {
	db *leveldb.DB
}

// OpenLevelDBKV opens (or creates) the database at path.
func OpenLevelDBKV(path string) (*LevelDBKV, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb session path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb session path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb session store: %w", err)
	}
	return &LevelDBKV{db: db}, nil
}

func (s *LevelDBKV) Get(_ context.Context, key string) (string, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get session value: %w", err)
	}
	return string(v), nil
}

func (s *LevelDBKV) Set(_ context.Context, key, value string) error {
	if err := s.db.Put([]byte(key), []byte(value), nil); err != nil {
		return fmt.Errorf("put session value: %w", err)
	}
	return nil
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
