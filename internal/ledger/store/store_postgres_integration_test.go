//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"civicledger/internal/ledger/models"
	"civicledger/internal/ledger/store"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/sentinel"
	"civicledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), store.DefaultPostgresTable)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestContract() {
	exerciseStore(s.T(), s.store)
}

func (s *PostgresStoreSuite) TestDuplicateRecordIDIsConflict() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, newRecord(1, "law-1", "h1", models.VoteYes)))
	err := s.store.Append(ctx, newRecord(1, "law-2", "h1", models.VoteYes))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// TestConcurrentDuplicateSubmissions verifies the advisory lock serializes
// check-then-append for one pair.
func (s *PostgresStoreSuite) TestConcurrentDuplicateSubmissions() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var appended, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.store.RunInTx(ctx, models.Key("law-1", "h1"), func(st store.Store) error {
				_, err := st.FindBySubjectAndVoterHash(ctx, "law-1", "h1")
				if err == nil {
					return dErrors.New(dErrors.CodeAlreadyVoted, "already voted")
				}
				if !errors.Is(err, sentinel.ErrNotFound) {
					return err
				}
				return st.Append(ctx, newRecord(n, "law-1", "h1", models.VoteYes))
			})
			switch {
			case err == nil:
				appended.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyVoted):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), appended.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestFailedTransactionRollsBack() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.store.RunInTx(ctx, models.Key("law-1", "h1"), func(st store.Store) error {
		if err := st.Append(ctx, newRecord(1, "law-1", "h1", models.VoteYes)); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	all, err := s.store.All(ctx)
	s.Require().NoError(err)
	s.Empty(all)
}
