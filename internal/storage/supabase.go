package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/brizzai/token-relay/internal/auth/models"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/requester"
)

const (
	restPath     = "/rest/v1/"
	tokenColumns = "user_id,access_token,refresh_token,expires_in,updated_at"
)

// SupabaseStore writes token sets through Supabase's PostgREST endpoint
type SupabaseStore struct {
	requester *requester.HTTPRequester
	table     string
}

// SupabaseError is a non-2xx answer from the REST endpoint
type SupabaseError struct {
	StatusCode int
	Body       string
}

func (e *SupabaseError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.StatusCode, e.Body)
}

func NewSupabaseStore(cfg *config.StoreConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &SupabaseStore{
		requester: requester.NewHTTPRequester(requester.HTTPRequesterParams{
			BaseURL:     strings.TrimRight(cfg.URL, "/") + restPath,
			Headers:     map[string]string{"X-Client-Info": "token-relay"},
			AuthManager: requester.NewAPIKeyAuthManager(cfg.Key),
			Timeout:     timeout,
		}),
		table: cfg.Table,
	}, nil
}

// Upsert relies on the unique constraint on user_id: merge-duplicates turns the insert into
// INSERT ... ON CONFLICT (user_id) DO UPDATE.
func (s *SupabaseStore) Upsert(ctx context.Context, set *models.TokenSet) error {
	if err := validateTokenSet(set); err != nil {
		return err
	}

	resp, err := s.requester.Do(ctx, &requester.Request{
		Method: http.MethodPost,
		Path:   s.table,
		Query:  url.Values{"on_conflict": {"user_id"}},
		Headers: map[string]string{
			"Prefer": "resolution=merge-duplicates,return=minimal",
		},
		Body: set,
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return &SupabaseError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}
	return nil
}

func (s *SupabaseStore) Get(ctx context.Context, userID string) (*models.TokenSet, error) {
	resp, err := s.requester.Do(ctx, &requester.Request{
		Method: http.MethodGet,
		Path:   s.table,
		Query: url.Values{
			"select":  {tokenColumns},
			"user_id": {"eq." + userID},
			"limit":   {"1"},
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &SupabaseError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}

	var rows []models.TokenSet
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode token set: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	row := rows[0]
	row.UpdatedAt = row.UpdatedAt.UTC()
	return &row, nil
}

func (s *SupabaseStore) Close() error {
	return nil
}
