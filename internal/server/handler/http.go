// Package handler builds the relay's HTTP handler.
package handler

import (
	"net/http"
	"net/netip"

	"github.com/brizzai/token-relay/internal/auth"
	"github.com/brizzai/token-relay/internal/auth/middleware"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/logger"
	"github.com/brizzai/token-relay/internal/metrics"
	"github.com/brizzai/token-relay/internal/utils"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const healthPath = "/healthz"

// Handler manages HTTP request handling and middleware configuration.
type Handler struct {
	auth           *auth.Service
	metrics        *metrics.Metrics
	metricsPath    string
	trustedProxies []netip.Prefix
}

// NewHandler creates a new HTTP handler. m is nil when metrics are disabled.
func NewHandler(authService *auth.Service, m *metrics.Metrics, metricsCfg *config.MetricsConfig, serverCfg *config.ServerConfig) (*Handler, error) {
	trusted, err := serverCfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	return &Handler{
		auth:           authService,
		metrics:        m,
		metricsPath:    metricsCfg.Path,
		trustedProxies: trusted,
	}, nil
}

// CreateHTTPHandler creates an HTTP handler with the middleware stack and every route
func (h *Handler) CreateHTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RealIP(h.trustedProxies))
	r.Use(middleware.RequestLogger(h.metrics))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteText(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteText(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	r.Get(healthPath, h.auth.Handler().HandleHealth)

	if h.metrics != nil && h.metricsPath != "" {
		r.Method(http.MethodGet, h.metricsPath, h.metrics.Handler())
		logger.Info("Serving metrics", zap.String("path", h.metricsPath))
	}

	h.auth.RegisterRoutes(r)
	return r
}
