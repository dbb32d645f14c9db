package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"civicledger/internal/ledger/models"
	"civicledger/pkg/platform/sentinel"
)

// LedgerFileName is the single named store the JSON ledger lives under.
const LedgerFileName = "vop-ledger.json"

// FileStore keeps the whole ledger as one JSON array on disk, the layout the
// browser demo used. Every append rewrites the file through a temp file and
// an atomic rename.
//
// The in-memory copy is authoritative, so a directory may be open in only one
// FileStore at a time; OpenFileStore holds an exclusive lock file until Close.
type FileStore struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu      sync.RWMutex
	records []*models.VoteRecord
	index   map[string]*models.VoteRecord
}

// OpenFileStore loads dir/LedgerFileName. A missing file is an empty ledger.
// An unreadable or corrupt file is also read as empty; its contents are moved
// aside to a .corrupt file so the next append does not silently destroy them.
// Opening a directory another FileStore holds fails with sentinel.ErrUnavailable.
func OpenFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LedgerFileName+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock ledger directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: ledger directory %s is in use", sentinel.ErrUnavailable, dir)
	}
	s := &FileStore{
		path:   filepath.Join(dir, LedgerFileName),
		lock:   lock,
		logger: logger,
		index:  make(map[string]*models.VoteRecord),
	}
	records, err := s.load()
	if err != nil {
		s.logger.Warn("ledger file unreadable, starting from an empty ledger",
			"path", s.path,
			"error", err,
		)
		if renameErr := os.Rename(s.path, s.path+".corrupt"); renameErr != nil && !errors.Is(renameErr, os.ErrNotExist) {
			s.logger.Warn("could not move corrupt ledger aside", "path", s.path, "error", renameErr)
		}
		records = nil
	}
	for _, rec := range records {
		s.records = append(s.records, rec)
		s.index[models.Key(rec.SubjectID, rec.VoterHash)] = rec
	}
	return s, nil
}

// Close releases the directory lock. The store must not be used afterwards.
func (s *FileStore) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

func (s *FileStore) load() ([]*models.VoteRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var decoded []*models.VoteRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	records := make([]*models.VoteRecord, 0, len(decoded))
	for _, rec := range decoded {
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *FileStore) Append(_ context.Context, rec *models.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	next := append(append([]*models.VoteRecord{}, s.records...), &cp)
	if err := s.save(next); err != nil {
		return err
	}
	s.records = next
	s.index[models.Key(cp.SubjectID, cp.VoterHash)] = &cp
	return nil
}

func (s *FileStore) save(records []*models.VoteRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("save ledger file: %w", err)
	}
	return nil
}

func (s *FileStore) FindBySubjectAndVoterHash(_ context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.index[models.Key(subjectID, voterHash)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *FileStore) All(_ context.Context) ([]*models.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.records), nil
}
