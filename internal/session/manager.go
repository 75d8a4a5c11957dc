package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const cookieIssuer = "token-relay"

// Manager binds server-side sessions to browsers. The cookie only carries an HS256-signed
// reference to the session id; the values themselves stay in the Store.
type Manager struct {
	store      Store
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewManager(store Store, cfg *config.SessionConfig) *Manager {
	return &Manager{
		store:      store,
		secret:     []byte(cfg.Secret),
		ttl:        cfg.TTL,
		cookieName: cfg.CookieName,
		secure:     cfg.Secure,
		now:        time.Now,
	}
}

// Get returns the value stored under key for the request's session.
// Missing cookie, bad signature, expired session and absent key all yield ErrNotFound.
func (m *Manager) Get(r *http.Request, key string) (string, error) {
	id, err := m.sessionID(r)
	if err != nil {
		return "", err
	}

	values, err := m.store.Get(r.Context(), id)
	if err != nil {
		return "", err
	}

	value, ok := values[key]
	if !ok || value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Put stores key=value in the request's session. The session id is rotated on every write
// and the previous values are carried over.
func (m *Manager) Put(w http.ResponseWriter, r *http.Request, key, value string) error {
	ctx := r.Context()
	values := Values{}

	oldID, err := m.sessionID(r)
	if err == nil {
		existing, getErr := m.store.Get(ctx, oldID)
		switch {
		case getErr == nil:
			values = existing
		case !errors.Is(getErr, ErrNotFound):
			return getErr
		}
	}
	values[key] = value

	id := uuid.NewString()
	if err := m.store.Set(ctx, id, values, m.ttl); err != nil {
		return err
	}
	if oldID != "" {
		m.deleteQuietly(ctx, oldID)
	}

	return m.writeCookie(w, id)
}

// Remove deletes key from the request's session; an emptied session is dropped entirely
// and its cookie expired.
func (m *Manager) Remove(w http.ResponseWriter, r *http.Request, key string) error {
	ctx := r.Context()
	id, err := m.sessionID(r)
	if err != nil {
		return nil
	}

	values, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.expireCookie(w)
		return nil
	}
	if err != nil {
		return err
	}

	delete(values, key)
	if len(values) > 0 {
		return m.store.Set(ctx, id, values, m.ttl)
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.expireCookie(w)
	return nil
}

func (m *Manager) sessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNotFound
	}

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		logger.Debug("Ignoring invalid session cookie", zap.Error(err))
		return "", ErrNotFound
	}
	if claims.ID == "" {
		return "", ErrNotFound
	}
	return claims.ID, nil
}

func (m *Manager) writeCookie(w http.ResponseWriter, id string) error {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		// Lax keeps the cookie on the top-level redirect back from the consent screen
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) deleteQuietly(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		logger.Warn("Failed to delete rotated session", zap.Error(err))
	}
}

// NewStore builds the configured session backend and closes it with the application
func NewStore(lc fx.Lifecycle, cfg *config.SessionConfig) (Store, error) {
	var store Store
	switch cfg.Backend {
	case config.SessionBackendRedis:
		redisStore, err := ConnectRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		store = redisStore
	case config.SessionBackendMemory, "":
		store = NewMemoryStore(cfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	logger.Info("Session store ready", zap.String("backend", string(cfg.Backend)), zap.Duration("ttl", cfg.TTL))
	return store, nil
}

// Module provides the session store and manager
var Module = fx.Module("session",
	fx.Provide(
		NewStore,
		NewManager,
	),
)
