package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	key, err := DeriveKey("test-passphrase")
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func TestSQLiteStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	_, ok, err := store.Get(ctx, "tokens")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "tokens", `{"accessToken":"A1"}`))
	v, ok, err := store.Get(ctx, "tokens")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"accessToken":"A1"}`, v)

	require.NoError(t, store.Set(ctx, "tokens", `{"accessToken":"A2"}`))
	v, _, err = store.Get(ctx, "tokens")
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"A2"}`, v)

	require.NoError(t, store.Delete(ctx, "tokens"))
	_, ok, err = store.Get(ctx, "tokens")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is fine
	assert.NoError(t, store.Delete(ctx, "tokens"))
}

func TestSQLiteStore_ValuesAreEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	store, dbPath := newTestSQLiteStore(t)
	require.NoError(t, store.Set(ctx, "tokens", "secret-access-token"))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var raw string
	require.NoError(t, db.QueryRow("SELECT encrypted_value FROM kv WHERE key = ?", "tokens").Scan(&raw))
	assert.NotContains(t, raw, "secret-access-token")
}

func TestSQLiteStore_WrongKeyFailsToDecrypt(t *testing.T) {
	ctx := context.Background()
	store, dbPath := newTestSQLiteStore(t)
	require.NoError(t, store.Set(ctx, "tokens", "value"))
	store.Close()

	otherKey, err := DeriveKey("another-passphrase")
	require.NoError(t, err)
	reopened, err := NewSQLiteStore(dbPath, otherKey)
	require.NoError(t, err)
	defer reopened.Close()

	_, _, err = reopened.Get(ctx, "tokens")
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	key, err := DeriveKey("pass")
	require.NoError(t, err)
	assert.Len(t, key, 32)

	encoded, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)
	plain, err := Decrypt(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	_, err = Decrypt("!!not base64!!", key)
	assert.Error(t, err)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := DeriveKey("pass")
	require.NoError(t, err)
	b, err := DeriveKey("pass")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = DeriveKey("")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)
	require.NoError(t, m.Set(ctx, "k", "v"))
	v, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}
