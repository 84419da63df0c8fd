package storage_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"taeu.kr/sessionkeeper/internal/platform/database"
	"taeu.kr/sessionkeeper/internal/storage"
)

// openSQLStore opens a durable store backed by the file at path.
func openSQLStore(t *testing.T, path string) *storage.SQLStore {
	t.Helper()
	db, err := database.NewDB(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSQLStore(db)
}

func exerciseKV(t *testing.T, kv storage.KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "user.refresh_token")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, kv.Set(ctx, "user.refresh_token", "r1"))
	got, err := kv.Get(ctx, "user.refresh_token")
	require.NoError(t, err)
	require.Equal(t, "r1", got)

	require.NoError(t, kv.Set(ctx, "user.refresh_token", "r2"))
	got, err = kv.Get(ctx, "user.refresh_token")
	require.NoError(t, err)
	require.Equal(t, "r2", got)

	require.NoError(t, kv.Delete(ctx, "user.refresh_token"))
	require.NoError(t, kv.Delete(ctx, "user.refresh_token"))
	_, err = kv.Get(ctx, "user.refresh_token")
	require.ErrorIs(t, err, storage.ErrNotFound)

	value, err := storage.Lookup(ctx, kv, "user.refresh_token")
	require.NoError(t, err)
	require.Empty(t, value)
}

func TestMemoryStore_GetSetDelete(t *testing.T) {
	exerciseKV(t, storage.NewMemoryStore())
}

func TestSQLStore_GetSetDelete(t *testing.T) {
	exerciseKV(t, openSQLStore(t, filepath.Join(t.TempDir(), "session.db")))
}

func TestSQLStore_SharedFileIsVisibleToOtherHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")
	first := openSQLStore(t, path)
	second := openSQLStore(t, path)

	require.NoError(t, first.Set(ctx, "admin.refresh_token", "admin-r"))

	got, err := second.Get(ctx, "admin.refresh_token")
	require.NoError(t, err)
	require.Equal(t, "admin-r", got)
}

func TestSQLStore_Keys(t *testing.T) {
	ctx := context.Background()
	store := openSQLStore(t, filepath.Join(t.TempDir(), "session.db"))

	require.NoError(t, store.Set(ctx, "user.refresh_token", "r"))
	require.NoError(t, store.Set(ctx, "remember_me", "true"))
	require.NoError(t, store.Set(ctx, "admin.access_token", "a"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"admin.access_token", "remember_me", "user.refresh_token"}, keys)
}

func TestSQLStore_ConcurrentWritersOnDistinctKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")
	stores := []*storage.SQLStore{openSQLStore(t, path), openSQLStore(t, path)}

	keys := []string{"user.refresh_token", "admin.refresh_token"}
	errs := make(chan error, len(stores)*20)
	var wg sync.WaitGroup
	for i, store := range stores {
		wg.Add(1)
		go func(key string, store *storage.SQLStore) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				errs <- store.Set(ctx, key, "v")
			}
		}(keys[i], store)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := stores[0].Keys(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}
