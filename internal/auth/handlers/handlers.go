package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/brizzai/token-relay/internal/auth/constants"
	"github.com/brizzai/token-relay/internal/auth/providers"
	"github.com/brizzai/token-relay/internal/logger"
	"github.com/brizzai/token-relay/internal/metrics"
	"github.com/brizzai/token-relay/internal/session"
	"github.com/brizzai/token-relay/internal/storage"
	"github.com/brizzai/token-relay/internal/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionStore is the part of the session manager the handlers need
type SessionStore interface {
	Put(w http.ResponseWriter, r *http.Request, key, value string) error
	Get(r *http.Request, key string) (string, error)
	Remove(w http.ResponseWriter, r *http.Request, key string) error
}

// Handler serves the authorization flow
type Handler struct {
	sessions SessionStore
	provider providers.Provider
	tokens   storage.TokenStore
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewHandler creates a new Handler instance. m may be nil.
func NewHandler(sessions SessionStore, provider providers.Provider, tokens storage.TokenStore, m *metrics.Metrics) *Handler {
	return &Handler{
		sessions: sessions,
		provider: provider,
		tokens:   tokens,
		metrics:  m,
		now:      time.Now,
	}
}

// HandleIndex answers the liveness text on /
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	utils.WriteText(w, http.StatusOK, constants.MsgIndex)
}

// HandleAuthorize remembers the user id in the session and sends the browser to Google's consent screen
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, constants.UserIDParam)
	if userID == "" {
		h.fail(w, metrics.StageAuthorize, http.StatusBadRequest, constants.MsgUserIDMissing)
		return
	}

	if err := h.sessions.Put(w, r, constants.SessionUserIDKey, userID); err != nil {
		logger.Error("Failed to store authorization session", zap.String("user_id", userID), zap.Error(err))
		h.fail(w, metrics.StageAuthorize, http.StatusInternalServerError, constants.MsgInternal+err.Error())
		return
	}

	logger.Info("Redirecting to consent screen", zap.String("user_id", userID))
	h.metrics.ObserveFlow(metrics.StageAuthorize, metrics.OutcomeSuccess)
	http.Redirect(w, r, h.provider.GetAuthURL(), http.StatusFound)
}

// HandleCallback completes the flow: code, session, exchange, persist. Each stage short-circuits
// on failure and the session is only cleared once the tokens are stored.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	code := query.Get(constants.CodeQueryParam)
	if code == "" {
		if providerErr := query.Get(constants.ErrorQueryParam); providerErr != "" {
			logger.Warn("Consent was not granted", zap.String("error", providerErr))
		}
		h.fail(w, metrics.StageCode, http.StatusBadRequest, constants.MsgCodeMissing)
		return
	}

	userID, err := h.sessions.Get(r, constants.SessionUserIDKey)
	switch {
	case errors.Is(err, session.ErrNotFound):
		h.fail(w, metrics.StageSession, http.StatusBadRequest, constants.MsgSessionMissing)
		return
	case err != nil:
		logger.Error("Failed to read authorization session", zap.Error(err))
		h.fail(w, metrics.StageSession, http.StatusInternalServerError, constants.MsgInternal+err.Error())
		return
	}

	log := logger.With(zap.String("user_id", userID))

	token, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		var exchangeErr *providers.ExchangeError
		switch {
		case errors.As(err, &exchangeErr):
			log.Warn("Token endpoint rejected the code", zap.Int("status", exchangeErr.StatusCode))
			h.fail(w, metrics.StageExchange, http.StatusBadRequest, constants.MsgTokenExchange+exchangeErr.Detail())
		case providers.IsClientError(err):
			log.Warn("Token endpoint returned an unusable response", zap.Error(err))
			h.fail(w, metrics.StageExchange, http.StatusBadRequest, constants.MsgTokenExchange+err.Error())
		default:
			log.Error("Token exchange failed", zap.Error(err))
			h.fail(w, metrics.StageExchange, http.StatusInternalServerError, constants.MsgInternal+err.Error())
		}
		return
	}

	set, err := providers.NewTokenSet(userID, token, h.now())
	if err != nil {
		log.Warn("Token response is incomplete", zap.Error(err))
		h.fail(w, metrics.StageExchange, http.StatusBadRequest, constants.MsgTokenExchange+err.Error())
		return
	}
	h.metrics.ObserveFlow(metrics.StageExchange, metrics.OutcomeSuccess)

	if err := h.tokens.Upsert(ctx, set); err != nil {
		log.Error("Failed to persist tokens", zap.Error(err))
		h.fail(w, metrics.StagePersist, http.StatusInternalServerError, constants.MsgTokenPersistence+err.Error())
		return
	}
	h.metrics.ObserveFlow(metrics.StagePersist, metrics.OutcomeSuccess)

	if err := h.sessions.Remove(w, r, constants.SessionUserIDKey); err != nil {
		log.Warn("Failed to clear authorization session", zap.Error(err))
	}

	log.Info("Authorization completed", zap.Bool("has_refresh_token", set.RefreshToken != nil))
	utils.WriteText(w, http.StatusOK, constants.MsgSuccess)
}

// HandleHealth is the liveness probe
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteText(w, http.StatusOK, "ok")
}

func (h *Handler) fail(w http.ResponseWriter, stage string, status int, message string) {
	h.metrics.ObserveFlow(stage, metrics.OutcomeFailure)
	utils.WriteText(w, status, message)
}
