package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brizzai/token-relay/internal/auth/models"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func tokenSet(access string, refresh *string, expiresIn int64, at time.Time) *models.TokenSet {
	return &models.TokenSet{
		UserID:       "user42",
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		UpdatedAt:    at,
	}
}

// exerciseTokenStore checks the upsert contract shared by every backend
func exerciseTokenStore(t *testing.T, store TokenStore) {
	t.Helper()
	ctx := context.Background()
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := store.Get(ctx, "user42")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Upsert(ctx, tokenSet("tok", strPtr("ref"), 3600, first)))
	require.NoError(t, store.Upsert(ctx, tokenSet("tok", strPtr("ref"), 3600, first)))

	got, err := store.Get(ctx, "user42")
	require.NoError(t, err)
	if diff := cmp.Diff(tokenSet("tok", strPtr("ref"), 3600, first), got); diff != "" {
		t.Fatalf("unexpected token set (-want +got):\n%s", diff)
	}

	// A later authorization without a refresh token replaces the whole record
	second := first.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, tokenSet("tok2", nil, 1800, second)))

	got, err = store.Get(ctx, "user42")
	require.NoError(t, err)
	if diff := cmp.Diff(tokenSet("tok2", nil, 1800, second), got); diff != "" {
		t.Fatalf("unexpected token set after second upsert (-want +got):\n%s", diff)
	}

	assert.Error(t, store.Upsert(ctx, &models.TokenSet{AccessToken: "tok"}))
	assert.ErrorIs(t, store.Upsert(ctx, &models.TokenSet{UserID: "user42"}), models.ErrMissingAccessToken)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "relay.db"), "google_tokens", time.Second)
	require.NoError(t, err)
	defer store.Close()

	exerciseTokenStore(t, store)

	n, err := store.Count(context.Background(), "user42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	store, err := OpenSQLite(path, "google_tokens", time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), tokenSet("tok", nil, 60, at)))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path, "google_tokens", time.Second)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(context.Background(), "user42")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Nil(t, got.RefreshToken)
	assert.True(t, at.Equal(got.UpdatedAt))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TOKEN_RELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TOKEN_RELAY_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	table := "google_tokens_test_" + time.Now().Format("150405")
	store, err := OpenPostgres(ctx, &config.StoreConfig{DSN: dsn, Table: table, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
		_ = store.Close()
	})

	exerciseTokenStore(t, store)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, &config.StoreConfig{Backend: config.StoreBackendSQLite, Path: "x.db", Table: "drop table;"})
	assert.ErrorContains(t, err, "invalid table name")

	_, err = Open(ctx, &config.StoreConfig{Backend: "mongo", Table: "google_tokens"})
	assert.ErrorContains(t, err, "unsupported store backend")

	_, err = Open(ctx, &config.StoreConfig{Backend: config.StoreBackendSupabase, Table: "google_tokens"})
	assert.ErrorContains(t, err, "supabase url and key are required")

	_, err = Open(ctx, &config.StoreConfig{Backend: config.StoreBackendPostgres, Table: "google_tokens"})
	assert.ErrorContains(t, err, "postgres dsn is required")

	store, err := Open(ctx, &config.StoreConfig{
		Backend: config.StoreBackendSQLite,
		Path:    filepath.Join(t.TempDir(), "relay.db"),
		Table:   "google_tokens",
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	assert.NoError(t, store.Close())
}
