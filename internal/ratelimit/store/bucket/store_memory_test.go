package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 5
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryBucketStore()
	s.store.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("request over limit denied with retry hint", func() {
		for range testLimit {
			result, err := s.store.Allow(s.ctx, "over", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(result.Allowed)
		}
		result, err := s.store.Allow(s.ctx, "over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(60, result.RetryAfter)
	})

	s.Run("keys are independent", func() {
		for range testLimit {
			_, _ = s.store.Allow(s.ctx, "busy", testLimit, testWindow)
		}
		result, err := s.store.Allow(s.ctx, "quiet", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestWindowSlides() {
	for range testLimit {
		_, _ = s.store.Allow(s.ctx, "slide", testLimit, testWindow)
		s.now = s.now.Add(10 * time.Second)
	}
	// The oldest request (t=0) is still inside the window at t=50s.
	result, err := s.store.Allow(s.ctx, "slide", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(10, result.RetryAfter)

	s.now = s.now.Add(11 * time.Second)
	result, err = s.store.Allow(s.ctx, "slide", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	for range testLimit {
		_, _ = s.store.Allow(s.ctx, "reset", testLimit, testWindow)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "reset"))

	result, err := s.store.Allow(s.ctx, "reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentAllowNeverExceedsLimit() {
	const goroutines = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "contended", testLimit, testWindow)
			if err == nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}
