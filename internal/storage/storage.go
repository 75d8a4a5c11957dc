// Package storage persists token sets, one record per user id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/brizzai/token-relay/internal/auth/models"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// ErrNotFound is returned by Get when no record exists for the user id
var ErrNotFound = errors.New("token set not found")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TokenStore persists token sets. Upsert replaces any existing record for the same user id,
// so repeating it with the same TokenSet leaves exactly one row.
type TokenStore interface {
	Upsert(ctx context.Context, set *models.TokenSet) error
	Get(ctx context.Context, userID string) (*models.TokenSet, error)
	Close() error
}

func validateTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

func validateTokenSet(set *models.TokenSet) error {
	if set == nil {
		return fmt.Errorf("token set is nil")
	}
	if set.UserID == "" {
		return fmt.Errorf("token set has no user id")
	}
	if set.AccessToken == "" {
		return models.ErrMissingAccessToken
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Open builds the configured token store
func Open(ctx context.Context, cfg *config.StoreConfig) (TokenStore, error) {
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.StoreBackendSupabase, "":
		return NewSupabaseStore(cfg)
	case config.StoreBackendPostgres:
		return OpenPostgres(ctx, cfg)
	case config.StoreBackendSQLite:
		return OpenSQLite(cfg.Path, cfg.Table, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// NewTokenStore opens the store and closes it with the application
func NewTokenStore(lc fx.Lifecycle, cfg *config.StoreConfig) (TokenStore, error) {
	ctx, cancel := withTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	store, err := Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s token store: %w", cfg.Backend, err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	logger.Info("Token store ready", zap.String("backend", string(cfg.Backend)), zap.String("table", cfg.Table))
	return store, nil
}

// Module provides the TokenStore
var Module = fx.Module("storage",
	fx.Provide(NewTokenStore),
)
