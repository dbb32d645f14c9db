package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicledger/pkg/platform/sentinel"
)

type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

func exerciseKV(t *testing.T, s kv) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Set(ctx, "session:a:vop-wallet", "0x01"))
	require.NoError(t, s.Set(ctx, "session:a:vop-wallet", "0x02"))
	v, err := s.Get(ctx, "session:a:vop-wallet")
	require.NoError(t, err)
	assert.Equal(t, "0x02", v, "set overwrites")
}

func TestInMemoryKV(t *testing.T) {
	exerciseKV(t, NewInMemoryKV())
}

func TestLevelDBKV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	s, err := OpenLevelDBKV(dir)
	require.NoError(t, err)
	exerciseKV(t, s)
	require.NoError(t, s.Close())

	t.Run("values survive reopen", func(t *testing.T) {
		reopened, err := OpenLevelDBKV(dir)
		require.NoError(t, err)
		defer reopened.Close()
		v, err := reopened.Get(context.Background(), "session:a:vop-wallet")
		require.NoError(t, err)
		assert.Equal(t, "0x02", v)
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		_, err := OpenLevelDBKV("  ")
		assert.Error(t, err)
	})
}
