package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/auth"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

func newAuthenticator(t *testing.T) (*auth.Authenticator, *shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := shared.NewSessionManager(client, time.Hour, 32)
	return auth.NewAuthenticator(sm, nil), sm, mr
}

func TestAuthenticateEmptyHeaderIsNullUser(t *testing.T) {
	a, _, _ := newAuthenticator(t)
	user, err := a.Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, user.IsAuthenticated())
}

func TestAuthenticateRejections(t *testing.T) {
	a, _, _ := newAuthenticator(t)
	valid, err := shared.NewToken(32)
	require.NoError(t, err)

	cases := map[string]string{
		"Basic dXNlcjpwYXNz":   "Wrong Scheme",
		"bearer":               "Wrong Scheme",
		"bearer a b":           "Wrong Scheme",
		"bearer !!!not-base64": "Invalid Token",
		"Bearer " + valid:      "Invalid Session",
	}
	for header, reason := range cases {
		_, err := a.Authenticate(context.Background(), header)
		var authErr *auth.AuthenticationError
		require.ErrorAs(t, err, &authErr, header)
		assert.Equal(t, reason, authErr.Reason, header)
	}
}

func TestAuthenticateExtendsSession(t *testing.T) {
	a, sm, mr := newAuthenticator(t)
	token, err := sm.StartSession(context.Background(), shared.Session{
		User: "alice",
		Data: shared.SessionData{Scopes: []string{"admin"}, Projects: []string{"parks"}},
	})
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	user, err := a.Authenticate(context.Background(), "BEARER "+token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.IsAdminIn("parks"))
	assert.Equal(t, token, user.Token)

	mr.FastForward(50 * time.Minute)
	_, err = sm.GetSession(context.Background(), token)
	assert.NoError(t, err)
}

func TestMiddlewareResponses(t *testing.T) {
	a, sm, mr := newAuthenticator(t)
	token, err := sm.StartSession(context.Background(), shared.Session{User: "alice"})
	require.NoError(t, err)

	var seen *shared.User
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.UserFromContext(r.Context())
		assert.Same(t, sm, shared.SessionManagerFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("bearer " + token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", seen.Username)

	rec = serve("")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, seen.IsAuthenticated())

	rec = serve("token " + token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	mr.Close()
	rec = serve("bearer " + token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
