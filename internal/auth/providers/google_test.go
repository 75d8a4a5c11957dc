package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brizzai/token-relay/internal/auth/constants"
	"github.com/brizzai/token-relay/internal/auth/models"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestProvider(tokenURL string) *GoogleProvider {
	return NewGoogleProvider(&config.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:5000/oauth2callback",
		TokenURL:     tokenURL,
		Timeout:      2 * time.Second,
	})
}

func TestGoogleProvider_GetAuthURL(t *testing.T) {
	p := newTestProvider("")

	u, err := url.Parse(p.GetAuthURL())
	require.NoError(t, err)

	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "/o/oauth2/v2/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:5000/oauth2callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, constants.DriveFileScope, q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.False(t, q.Has("state"))
}

func TestNewGoogleProvider_Endpoints(t *testing.T) {
	p := NewGoogleProvider(&config.OAuthConfig{ClientID: "c", RedirectURL: "http://localhost/cb"})
	assert.Equal(t, constants.GoogleAuthURL, p.oauth2Config.Endpoint.AuthURL)
	assert.Equal(t, constants.GoogleTokenURL, p.oauth2Config.Endpoint.TokenURL)
	assert.True(t, strings.HasPrefix(p.GetAuthURL(), constants.GoogleAuthURL+"?"))

	custom := NewGoogleProvider(&config.OAuthConfig{
		ClientID:    "c",
		RedirectURL: "http://localhost/cb",
		AuthURL:     "http://idp.local/auth",
		TokenURL:    "http://idp.local/token",
	})
	assert.True(t, strings.HasPrefix(custom.GetAuthURL(), "http://idp.local/auth?"))
	assert.Equal(t, "http://idp.local/token", custom.oauth2Config.Endpoint.TokenURL)
}

func TestGoogleProvider_ExchangeCode(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		checkResult    func(t *testing.T, token *oauth2.Token, err error)
	}{
		{
			name: "successful exchange posts form credentials",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "abc123", r.PostForm.Get("code"))
				assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
				assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
				assert.Equal(t, "http://localhost:5000/oauth2callback", r.PostForm.Get("redirect_uri"))
				assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
				_, _, hasBasic := r.BasicAuth()
				assert.False(t, hasBasic)

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"access_token":"tok","refresh_token":"ref","expires_in":3600,"token_type":"Bearer"}`))
			},
			checkResult: func(t *testing.T, token *oauth2.Token, err error) {
				require.NoError(t, err)
				assert.Equal(t, "tok", token.AccessToken)
				assert.Equal(t, "ref", token.RefreshToken)
				assert.EqualValues(t, 3600, token.Extra("expires_in"))
			},
		},
		{
			name: "provider error keeps status and body",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
			},
			checkResult: func(t *testing.T, token *oauth2.Token, err error) {
				require.Error(t, err)
				assert.Nil(t, token)

				var exchangeErr *ExchangeError
				require.True(t, errors.As(err, &exchangeErr))
				assert.Equal(t, http.StatusBadRequest, exchangeErr.StatusCode)
				assert.Equal(t, "invalid_grant", exchangeErr.ErrorCode)
				assert.Equal(t, `{"error":"invalid_grant","error_description":"Bad Request"}`, exchangeErr.Detail())
				assert.True(t, IsClientError(err))
			},
		},
		{
			name: "2xx without access token is an invalid response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"expires_in":3600}`))
			},
			checkResult: func(t *testing.T, token *oauth2.Token, err error) {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTokenResponse)
				assert.True(t, IsClientError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			p := newTestProvider(server.URL)
			token, err := p.ExchangeCode(context.Background(), "abc123")
			tt.checkResult(t, token, err)
		})
	}
}

func TestGoogleProvider_ExchangeCodeTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokenURL := server.URL
	server.Close()

	p := newTestProvider(tokenURL)
	_, err := p.ExchangeCode(context.Background(), "abc123")
	require.Error(t, err)
	assert.False(t, IsClientError(err))
}

func TestGoogleProvider_ExchangeCodeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	p := NewGoogleProvider(&config.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:5000/oauth2callback",
		TokenURL:     server.URL,
		Timeout:      50 * time.Millisecond,
	})

	start := time.Now()
	_, err := p.ExchangeCode(context.Background(), "abc123")
	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewTokenSet(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	withExtra := (&oauth2.Token{AccessToken: "tok", RefreshToken: "ref"}).WithExtra(map[string]interface{}{"expires_in": float64(3599)})
	set, err := NewTokenSet("user42", withExtra, now)
	require.NoError(t, err)
	assert.Equal(t, "user42", set.UserID)
	assert.Equal(t, "tok", set.AccessToken)
	assert.Equal(t, "ref", set.RefreshTokenValue())
	assert.EqualValues(t, 3599, set.ExpiresIn)
	assert.Equal(t, now, set.UpdatedAt)

	noRefresh := (&oauth2.Token{AccessToken: "tok"}).WithExtra(map[string]interface{}{"expires_in": float64(10)})
	set, err = NewTokenSet("user42", noRefresh, now)
	require.NoError(t, err)
	assert.Nil(t, set.RefreshToken)

	fromExpiry := &oauth2.Token{AccessToken: "tok", Expiry: now.Add(time.Hour)}
	set, err = NewTokenSet("user42", fromExpiry, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3600, set.ExpiresIn)

	_, err = NewTokenSet("user42", &oauth2.Token{}, now)
	assert.ErrorIs(t, err, models.ErrMissingAccessToken)

	_, err = NewTokenSet("user42", &oauth2.Token{AccessToken: "tok"}, now)
	assert.ErrorIs(t, err, models.ErrMissingExpiresIn)
}
