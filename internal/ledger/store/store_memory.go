package store

import (
	"context"
	"sync"

	"civicledger/internal/ledger/models"
	"civicledger/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger for the process lifetime. It backs tests and
// the default development configuration.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*models.VoteRecord
	index   map[string]*models.VoteRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{index: make(map[string]*models.VoteRecord)}
}

func (s *InMemoryStore) Append(_ context.Context, rec *models.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	s.index[models.Key(cp.SubjectID, cp.VoterHash)] = &cp
	return nil
}

func (s *InMemoryStore) FindBySubjectAndVoterHash(_ context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.index[models.Key(subjectID, voterHash)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) All(_ context.Context) ([]*models.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.records), nil
}

func copyRecords(in []*models.VoteRecord) []*models.VoteRecord {
	out := make([]*models.VoteRecord, len(in))
	for i, rec := range in {
		cp := *rec
		out[i] = &cp
	}
	return out
}
