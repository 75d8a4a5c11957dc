package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brizzai/token-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store, &config.SessionConfig{
		Secret:     "test-secret",
		TTL:        time.Minute,
		CookieName: "relay_session",
	}), store
}

// carryCookies copies the cookies set on rec onto a fresh request, the way a browser would
func carryCookies(rec *httptest.ResponseRecorder, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		req.AddCookie(c)
	}
	return req
}

func TestManager_PutGet(t *testing.T) {
	m, _ := newTestManager(t)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Put(rec, httptest.NewRequest(http.MethodGet, "/authorize/user42", nil), "user_id", "user42"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "relay_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 60, cookies[0].MaxAge)

	value, err := m.Get(carryCookies(rec, "/oauth2callback"), "user_id")
	require.NoError(t, err)
	assert.Equal(t, "user42", value)
}

func TestManager_GetWithoutSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(httptest.NewRequest(http.MethodGet, "/oauth2callback", nil), "user_id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_RejectsForgedCookie(t *testing.T) {
	m, _ := newTestManager(t)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Put(rec, httptest.NewRequest(http.MethodGet, "/", nil), "user_id", "user42"))

	other := NewManager(NewMemoryStore(time.Minute), &config.SessionConfig{
		Secret:     "another-secret",
		TTL:        time.Minute,
		CookieName: "relay_session",
	})
	_, err := other.Get(carryCookies(rec, "/oauth2callback"), "user_id")
	assert.ErrorIs(t, err, ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/oauth2callback", nil)
	req.AddCookie(&http.Cookie{Name: "relay_session", Value: "not-a-token"})
	_, err = m.Get(req, "user_id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ExpiredCookie(t *testing.T) {
	m, _ := newTestManager(t)
	start := time.Now()
	m.now = func() time.Time { return start }

	rec := httptest.NewRecorder()
	require.NoError(t, m.Put(rec, httptest.NewRequest(http.MethodGet, "/", nil), "user_id", "user42"))

	m.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err := m.Get(carryCookies(rec, "/oauth2callback"), "user_id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_PutRotatesSessionID(t *testing.T) {
	m, store := newTestManager(t)

	first := httptest.NewRecorder()
	require.NoError(t, m.Put(first, httptest.NewRequest(http.MethodGet, "/", nil), "user_id", "user42"))
	firstID, err := m.sessionID(carryCookies(first, "/"))
	require.NoError(t, err)

	second := httptest.NewRecorder()
	require.NoError(t, m.Put(second, carryCookies(first, "/"), "user_id", "user43"))
	secondID, err := m.sessionID(carryCookies(second, "/"))
	require.NoError(t, err)

	assert.NotEqual(t, firstID, secondID)
	_, err = store.Get(context.Background(), firstID)
	assert.ErrorIs(t, err, ErrNotFound)

	value, err := m.Get(carryCookies(second, "/"), "user_id")
	require.NoError(t, err)
	assert.Equal(t, "user43", value)
}

func TestManager_Remove(t *testing.T) {
	m, store := newTestManager(t)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Put(rec, httptest.NewRequest(http.MethodGet, "/", nil), "user_id", "user42"))
	req := carryCookies(rec, "/oauth2callback")
	id, err := m.sessionID(req)
	require.NoError(t, err)

	out := httptest.NewRecorder()
	require.NoError(t, m.Remove(out, req, "user_id"))

	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(req, "user_id")
	assert.ErrorIs(t, err, ErrNotFound)

	cookies := out.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)

	// removing again is a no-op
	assert.NoError(t, m.Remove(httptest.NewRecorder(), req, "user_id"))
	assert.NoError(t, m.Remove(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), "user_id"))
}

func TestManager_RemoveKeepsOtherValues(t *testing.T) {
	m, _ := newTestManager(t)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Put(rec, httptest.NewRequest(http.MethodGet, "/", nil), "user_id", "user42"))
	rec2 := httptest.NewRecorder()
	require.NoError(t, m.Put(rec2, carryCookies(rec, "/"), "locale", "pt-BR"))

	req := carryCookies(rec2, "/")
	require.NoError(t, m.Remove(httptest.NewRecorder(), req, "user_id"))

	locale, err := m.Get(req, "locale")
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", locale)
	_, err = m.Get(req, "user_id")
	assert.ErrorIs(t, err, ErrNotFound)
}
