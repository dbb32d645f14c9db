package store_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicledger/internal/ledger/models"
	"civicledger/internal/ledger/store"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/sentinel"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRecord(n int, subjectID, voterHash string, vote models.VoteType) *models.VoteRecord {
	return &models.VoteRecord{
		ID:          fmt.Sprintf("rec_%04d", n),
		SubjectID:   subjectID,
		VoteType:    vote,
		VoterHash:   voterHash,
		Region:      "Gauteng",
		Timestamp:   time.Date(2024, 3, 1, 12, 0, n, 0, time.UTC).UnixMilli(),
		ReceiptHash: fmt.Sprintf("0x%064d", n),
	}
}

// exerciseStore checks the contract every backend shares.
func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = s.FindBySubjectAndVoterHash(ctx, "law-1", "h1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	first := newRecord(1, "law-2", "h1", models.VoteYes)
	second := newRecord(2, "law-1", "h1", models.VoteNo)
	third := newRecord(3, "law-2", "h2", models.VoteAbstain)
	for _, rec := range []*models.VoteRecord{first, second, third} {
		require.NoError(t, s.Append(ctx, rec))
	}

	found, err := s.FindBySubjectAndVoterHash(ctx, "law-1", "h1")
	require.NoError(t, err)
	assert.Equal(t, second, found)

	_, err = s.FindBySubjectAndVoterHash(ctx, "law-1", "h2")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	all, err = s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"rec_0001", "rec_0002", "rec_0003"}, []string{all[0].ID, all[1].ID, all[2].ID},
		"records come back in insertion order")

	all[0].VoteType = models.VoteNo
	again, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.VoteYes, again[0].VoteType, "callers cannot mutate stored records")
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewInMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenFileStore(dir, discardLogger)
	require.NoError(t, err)
	exerciseStore(t, s)

	t.Run("a second opener is refused while the store is open", func(t *testing.T) {
		_, err := store.OpenFileStore(dir, discardLogger)
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	})

	require.NoError(t, s.Close())

	t.Run("records survive reopen", func(t *testing.T) {
		reopened, err := store.OpenFileStore(dir, discardLogger)
		require.NoError(t, err)
		defer reopened.Close()
		all, err := reopened.All(context.Background())
		require.NoError(t, err)
		assert.Len(t, all, 3)

		_, err = reopened.FindBySubjectAndVoterHash(context.Background(), "law-2", "h2")
		assert.NoError(t, err)
	})
}

func TestFileStoreSharedDirectoryKeepsEveryAppend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := store.OpenFileStore(dir, discardLogger)
	require.NoError(t, err)
	_, err = store.OpenFileStore(dir, discardLogger)
	require.ErrorIs(t, err, sentinel.ErrUnavailable, "a second handle would append from a stale copy")

	tx := store.NewShardedTx(first)
	key := models.Key("b1", "h")
	appendOnce := func(rec *models.VoteRecord) error {
		return tx.RunInTx(ctx, key, func(st store.Store) error {
			if _, err := st.FindBySubjectAndVoterHash(ctx, "b1", "h"); err == nil {
				return dErrors.New(dErrors.CodeAlreadyVoted, "duplicate")
			}
			return st.Append(ctx, rec)
		})
	}
	require.NoError(t, appendOnce(newRecord(1, "b1", "h", models.VoteYes)))
	err = appendOnce(newRecord(2, "b1", "h", models.VoteNo))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyVoted))
	require.NoError(t, first.Close())

	reopened, err := store.OpenFileStore(dir, discardLogger)
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rec_0001", all[0].ID)
}

func TestFileStoreCorruptLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("unparseable file reads as empty and is moved aside", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, store.LedgerFileName)
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		s, err := store.OpenFileStore(dir, discardLogger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		preserved, err := os.ReadFile(path + ".corrupt")
		require.NoError(t, err)
		assert.Equal(t, "{not json", string(preserved))

		require.NoError(t, s.Append(ctx, newRecord(1, "law-1", "h1", models.VoteYes)))
		all, err = s.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("entries missing required fields are skipped", func(t *testing.T) {
		dir := t.TempDir()
		content := `[
			{"id":"rec_1","subjectId":"law-1","voteType":"yes","voterHash":"h1","timestamp":1,"receiptHash":"0x1"},
			{"id":"","subjectId":"law-1","voteType":"yes","voterHash":"h2","timestamp":2,"receiptHash":"0x2"},
			{"id":"rec_3","subjectId":"law-1","voteType":"maybe","voterHash":"h3","timestamp":3,"receiptHash":"0x3"}
		]`
		require.NoError(t, os.WriteFile(filepath.Join(dir, store.LedgerFileName), []byte(content), 0o644))

		s, err := store.OpenFileStore(dir, discardLogger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "rec_1", all[0].ID)
	})
}

func TestLevelDBStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	s, err := store.OpenLevelDBStore(path, discardLogger)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	t.Run("sequence continues after reopen", func(t *testing.T) {
		ctx := context.Background()
		reopened, err := store.OpenLevelDBStore(path, discardLogger)
		require.NoError(t, err)
		defer reopened.Close()

		require.NoError(t, reopened.Append(ctx, newRecord(4, "law-3", "h1", models.VoteYes)))
		all, err := reopened.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "rec_0004", all[3].ID)
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		_, err := store.OpenLevelDBStore(" ", discardLogger)
		assert.Error(t, err)
	})
}

func TestShardedTx(t *testing.T) {
	t.Run("concurrent check-then-append on one key yields one record", func(t *testing.T) {
		ctx := context.Background()
		s := store.NewInMemoryStore()
		tx := store.NewShardedTx(s)
		const goroutines = 50

		var wg sync.WaitGroup
		var appended, conflicts atomic.Int32
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				err := tx.RunInTx(ctx, models.Key("law-1", "h1"), func(st store.Store) error {
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

		assert.Equal(t, int32(1), appended.Load())
		assert.Equal(t, int32(goroutines-1), conflicts.Load())
		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("cancelled context aborts before fn runs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := store.NewShardedTx(store.NewInMemoryStore()).RunInTx(ctx, "k", func(store.Store) error {
			called = true
			return nil
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		assert.False(t, called)
	})

	t.Run("fn error is returned unchanged", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.NewShardedTx(store.NewInMemoryStore(), store.WithTxTimeout(time.Second)).
			RunInTx(context.Background(), "k", func(store.Store) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}
