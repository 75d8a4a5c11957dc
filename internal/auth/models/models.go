package models

import (
	"errors"
	"time"
)

// ErrMissingAccessToken is returned when the provider answered 2xx without a usable access token
var ErrMissingAccessToken = errors.New("token response is missing access_token")

// ErrMissingExpiresIn is returned when the provider answered 2xx without expires_in
var ErrMissingExpiresIn = errors.New("token response is missing expires_in")

// AuthorizationSession carries the caller-supplied user id from /authorize to the callback
type AuthorizationSession struct {
	UserID string
}

// TokenSet is the persisted unit, one per user id
type TokenSet struct {
	UserID       string    `json:"user_id" db:"user_id"`
	AccessToken  string    `json:"access_token" db:"access_token"`
	RefreshToken *string   `json:"refresh_token" db:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in" db:"expires_in"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// RefreshTokenValue returns the refresh token or "" when the provider did not send one
func (t *TokenSet) RefreshTokenValue() string {
	if t.RefreshToken == nil {
		return ""
	}
	return *t.RefreshToken
}
