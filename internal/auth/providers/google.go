package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brizzai/token-relay/internal/auth/constants"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultExchangeTimeout = 15 * time.Second

type GoogleProvider struct {
	oauth2Config *oauth2.Config
	client       *http.Client
}

func NewGoogleProvider(cfg *config.OAuthConfig) *GoogleProvider {
	endpoint := google.Endpoint
	endpoint.AuthURL = constants.GoogleAuthURL
	endpoint.TokenURL = constants.GoogleTokenURL
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// client_id and client_secret travel in the form body
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := strings.Fields(cfg.Scope)
	if len(scopes) == 0 {
		scopes = []string{constants.DriveFileScope}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	return &GoogleProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		client: &http.Client{Timeout: timeout},
	}
}

// GetAuthURL asks for offline access so Google issues a refresh token, and forces the
// consent screen so a refresh token is issued again on re-authorization.
func (p *GoogleProvider) GetAuthURL() string {
	return p.oauth2Config.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err == nil {
		return token, nil
	}

	if exchangeErr, ok := asExchangeError(err); ok {
		logger.Warn("Token endpoint rejected the authorization code",
			zap.Int("status", exchangeErr.StatusCode),
			zap.String("error_code", exchangeErr.ErrorCode),
		)
		return nil, exchangeErr
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("token endpoint request failed: %w", err)
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidTokenResponse, err)
}

// Module provides the Google provider as the relay's Provider
var Module = fx.Module("providers",
	fx.Provide(
		fx.Annotate(
			NewGoogleProvider,
			fx.As(new(Provider)),
		),
	),
)
