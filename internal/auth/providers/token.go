package providers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/brizzai/token-relay/internal/auth/models"
	"golang.org/x/oauth2"
)

// NewTokenSet checks the presence of the fields the relay persists and builds the record.
// An absent refresh token is kept as nil, never as an empty string.
func NewTokenSet(userID string, token *oauth2.Token, now time.Time) (*models.TokenSet, error) {
	if token == nil || token.AccessToken == "" {
		return nil, models.ErrMissingAccessToken
	}

	expiresIn, ok := expiresIn(token, now)
	if !ok {
		return nil, models.ErrMissingExpiresIn
	}

	set := &models.TokenSet{
		UserID:      userID,
		AccessToken: token.AccessToken,
		ExpiresIn:   expiresIn,
		UpdatedAt:   now.UTC(),
	}
	if token.RefreshToken != "" {
		refresh := token.RefreshToken
		set.RefreshToken = &refresh
	}
	return set, nil
}

// expiresIn prefers the raw expires_in value the provider sent over the derived Expiry
func expiresIn(token *oauth2.Token, now time.Time) (int64, bool) {
	switch v := token.Extra("expires_in").(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}

	if !token.Expiry.IsZero() {
		return int64(token.Expiry.Sub(now).Round(time.Second) / time.Second), true
	}
	return 0, false
}
