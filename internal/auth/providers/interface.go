package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// ErrInvalidTokenResponse is returned when the token endpoint answered 2xx with a body that
// is not a usable token
var ErrInvalidTokenResponse = errors.New("invalid token response")

// Provider defines what the relay needs from an OAuth identity provider
type Provider interface {
	// GetAuthURL returns the consent screen URL the user is redirected to
	GetAuthURL() string

	// ExchangeCode exchanges an authorization code for tokens.
	// A non-2xx answer from the token endpoint is returned as *ExchangeError.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
}

// ExchangeError is a non-2xx answer from the provider's token endpoint
type ExchangeError struct {
	StatusCode int
	ErrorCode  string
	Body       []byte
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Detail())
}

// Detail is the provider's own description of the failure, as sent on the wire
func (e *ExchangeError) Detail() string {
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		return body
	}
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return "empty response"
}

// IsClientError reports whether err originates from the provider rejecting the exchange or
// answering with an unusable token, as opposed to a transport failure.
func IsClientError(err error) bool {
	var exchangeErr *ExchangeError
	return errors.As(err, &exchangeErr) || errors.Is(err, ErrInvalidTokenResponse)
}

// asExchangeError maps oauth2's RetrieveError to ExchangeError
func asExchangeError(err error) (*ExchangeError, bool) {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return nil, false
	}
	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	return &ExchangeError{
		StatusCode: status,
		ErrorCode:  retrieveErr.ErrorCode,
		Body:       retrieveErr.Body,
	}, true
}
