package store

import (
	"context"
	"sync"

	"civicledger/pkg/platform/sentinel"
)

// InMemoryKV keeps session values for the process lifetime.
type InMemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{values: make(map[string]string)}
}

func (s *InMemoryKV) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", sentinel.ErrNotFound
}

func (s *InMemoryKV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
