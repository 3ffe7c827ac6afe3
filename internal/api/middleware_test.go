package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bizdocs/collabhub/internal/types"
)

func TestAuthMiddleware(t *testing.T) {
	t.Run("missing cookie", func(t *testing.T) {
		ta := newTestApp(t)

		var called bool
		handler := ta.app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})

		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, called, "expected the wrapped handler to be skipped")
	})

	t.Run("garbage token", func(t *testing.T) {
		ta := newTestApp(t)

		var called bool
		handler := ta.app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "garbage"})

		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, called)
	})

	t.Run("expired session token", func(t *testing.T) {
		ta := newTestApp(t)

		sessionToken, err := ta.app.createJwtForSession(types.User{Id: 7}, -time.Hour)
		assert.NoError(t, err)

		handler := ta.app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("expected the wrapped handler to be skipped")
		})

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: sessionToken})

		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token sets user id on context", func(t *testing.T) {
		ta := newTestApp(t)

		var gotUserId int
		handler := ta.app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			gotUserId, _ = UserId(r.Context())
		})

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(ta.sessionCookie(t, 7))

		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 7, gotUserId)
		assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
	})
}
