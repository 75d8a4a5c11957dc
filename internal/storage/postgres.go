package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brizzai/token-relay/internal/auth/models"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes token sets straight into Postgres, e.g. the database behind a
// Supabase project when the REST layer is not wanted
type PostgresStore struct {
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
}

// OpenPostgres connects the pool and ensures the token table exists
func OpenPostgres(ctx context.Context, cfg *config.StoreConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool, table: cfg.Table, timeout: cfg.Timeout}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	user_id TEXT PRIMARY KEY,
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	expires_in BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, pgx.Identifier{s.table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, set *models.TokenSet) error {
	if err := validateTokenSet(set); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (user_id, access_token, refresh_token, expires_in, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_in = EXCLUDED.expires_in,
	updated_at = EXCLUDED.updated_at
`, pgx.Identifier{s.table}.Sanitize()),
		set.UserID,
		set.AccessToken,
		set.RefreshToken,
		set.ExpiresIn,
		set.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert token set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.TokenSet, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var set models.TokenSet
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT user_id, access_token, refresh_token, expires_in, updated_at FROM %s WHERE user_id = $1`,
		pgx.Identifier{s.table}.Sanitize()),
		userID,
	).Scan(&set.UserID, &set.AccessToken, &set.RefreshToken, &set.ExpiresIn, &set.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token set: %w", err)
	}
	set.UpdatedAt = set.UpdatedAt.UTC()
	return &set, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
