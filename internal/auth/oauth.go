// Package auth wires the authorization flow routes.
package auth

import (
	"github.com/brizzai/token-relay/internal/auth/constants"
	"github.com/brizzai/token-relay/internal/auth/handlers"
	"github.com/brizzai/token-relay/internal/auth/middleware"
	"github.com/brizzai/token-relay/internal/auth/providers"
	"github.com/brizzai/token-relay/internal/metrics"
	"github.com/brizzai/token-relay/internal/ratelimit"
	"github.com/brizzai/token-relay/internal/session"
	"github.com/brizzai/token-relay/internal/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

// Service represents the authorization flow
type Service struct {
	handler *handlers.Handler
	limiter ratelimit.Limiter
}

// NewService creates a new authorization service. m and limiter may be nil.
func NewService(sessions handlers.SessionStore, provider providers.Provider, tokens storage.TokenStore, m *metrics.Metrics, limiter ratelimit.Limiter) *Service {
	return &Service{
		handler: handlers.NewHandler(sessions, provider, tokens, m),
		limiter: limiter,
	}
}

// RegisterRoutes registers the flow routes; the two flow endpoints are rate limited
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get(constants.IndexPath, s.handler.HandleIndex)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.limiter))
		r.Get(constants.AuthorizePath, s.handler.HandleAuthorize)
		r.Get(constants.CallbackPath, s.handler.HandleCallback)
	})
}

// Handler returns the underlying flow handler
func (s *Service) Handler() *handlers.Handler {
	return s.handler
}

// Module provides the authorization Service
var Module = fx.Module("auth",
	fx.Provide(
		ratelimit.NewLimiter,
		func(m *session.Manager) handlers.SessionStore { return m },
		NewService,
	),
)
