package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/brizzai/token-relay/internal/auth/models"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteStore keeps token sets in a local SQLite file, for single-node deployments and development
type SQLiteStore struct {
	sqlDB   *sql.DB
	table   string
	timeout time.Duration
}

// OpenSQLite opens (creating if needed) the database at path and ensures the token table exists
func OpenSQLite(path, table string, timeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &SQLiteStore{sqlDB: sqlDB, table: table, timeout: timeout}
	if err := store.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.sqlDB.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	user_id TEXT PRIMARY KEY,
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	expires_in INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`, s.table))
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, set *models.TokenSet) error {
	if err := validateTokenSet(set); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (user_id, access_token, refresh_token, expires_in, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	expires_in = excluded.expires_in,
	updated_at = excluded.updated_at
`, s.table),
		set.UserID,
		set.AccessToken,
		set.RefreshToken,
		set.ExpiresIn,
		toMillis(set.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert token set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*models.TokenSet, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		set       models.TokenSet
		refresh   sql.NullString
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT user_id, access_token, refresh_token, expires_in, updated_at FROM %s WHERE user_id = ?`, s.table),
		userID,
	).Scan(&set.UserID, &set.AccessToken, &refresh, &set.ExpiresIn, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token set: %w", err)
	}

	if refresh.Valid {
		value := refresh.String
		set.RefreshToken = &value
	}
	set.UpdatedAt = fromMillis(updatedAt)
	return &set, nil
}

// Count returns the number of rows stored for userID
func (s *SQLiteStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = ?`, s.table), userID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
