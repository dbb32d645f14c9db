package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"civicledger/internal/ledger/models"
	"civicledger/pkg/platform/sentinel"
)

const (
	recordKeyPrefix = "rec/"
	indexKeyPrefix  = "idx/"
	seqWidth        = 20
)

// LevelDBStore is a durable key-ordered log. Records live under
// rec/<zero-padded sequence> so iteration order is insertion order; an
// idx/<subject>|<voter hash> entry points at the record key.
type LevelDBStore struct {
	db     *leveldb.DB
	logger *slog.Logger

	mu      sync.Mutex
	nextSeq uint64
}

// OpenLevelDBStore opens (or creates) the ledger database at path.
func OpenLevelDBStore(path string, logger *slog.Logger) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb ledger path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb ledger path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb ledger: %w", err)
	}
	s := &LevelDBStore{db: db, logger: logger}
	s.nextSeq = s.lastSeq() + 1
	return s, nil
}

// lastSeq returns the highest sequence on disk, or 0 for an empty log.
func (s *LevelDBStore) lastSeq() uint64 {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(recordKeyPrefix)), nil)
	defer iter.Release()
	if !iter.Last() {
		return 0
	}
	seq, err := strconv.ParseUint(strings.TrimPrefix(string(iter.Key()), recordKeyPrefix), 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", recordKeyPrefix, seqWidth, seq))
}

func indexKey(subjectID, voterHash string) []byte {
	return []byte(indexKeyPrefix + models.Key(subjectID, voterHash))
}

// Append writes the record and its index entry in one batch.
func (s *LevelDBStore) Append(_ context.Context, rec *models.VoteRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(s.nextSeq)
	batch := new(leveldb.Batch)
	batch.Put(key, value)
	batch.Put(indexKey(rec.SubjectID, rec.VoterHash), key)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	s.nextSeq++
	return nil
}

func (s *LevelDBStore) FindBySubjectAndVoterHash(_ context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	key, err := s.db.Get(indexKey(subjectID, voterHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record index: %w", err)
	}
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	rec, ok := s.decode(key, value)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec, nil
}

// All walks the log in key order. Entries that fail to decode are skipped.
func (s *LevelDBStore) All(_ context.Context) ([]*models.VoteRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(recordKeyPrefix)), nil)
	defer iter.Release()

	var records []*models.VoteRecord
	for iter.Next() {
		if rec, ok := s.decode(iter.Key(), iter.Value()); ok {
			records = append(records, rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return records, nil
}

func (s *LevelDBStore) decode(key, value []byte) (*models.VoteRecord, bool) {
	var rec models.VoteRecord
	if err := json.Unmarshal(value, &rec); err != nil || !rec.Valid() {
		if s.logger != nil {
			s.logger.Warn("skipping corrupt ledger entry", "key", string(key), "error", err)
		}
		return nil, false
	}
	return &rec, true
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
