package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/auth"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/mailer"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
	_ "github.com/MuistotKartalla/muistot-backend-sub001/testing"
)

type stubRepo struct {
	mu        sync.Mutex
	accounts  map[string]*auth.Account
	grants    map[int64]auth.Grants
	verifiers map[string]string
	cooldown  bool
	nextID    int64
	// beforeCreate runs ahead of the insert, standing in for a concurrent writer.
	beforeCreate func()
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts:  map[string]*auth.Account{},
		grants:    map[int64]auth.Grants{},
		verifiers: map[string]string{},
	}
}

func (s *stubRepo) add(t *testing.T, username, email, password string, verified bool) *auth.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	acc := &auth.Account{ID: s.nextID, Username: username, Email: email, PasswordHash: string(hash), Verified: verified}
	s.accounts[username] = acc
	return acc
}

func (s *stubRepo) FindByLogin(ctx context.Context, login string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.Username == login || acc.Email == login {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.FindByLogin(ctx, email)
}

func (s *stubRepo) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var userTaken, emailTaken bool
	for _, acc := range s.accounts {
		userTaken = userTaken || acc.Username == username
		emailTaken = emailTaken || acc.Email == email
	}
	return userTaken, emailTaken, nil
}

func (s *stubRepo) CreateAccount(ctx context.Context, acc auth.Account, verifier string) (int64, error) {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Username == acc.Username || existing.Email == acc.Email {
			return 0, fmt.Errorf("insert user: %w", db.ErrIntegrity)
		}
	}
	s.nextID++
	acc.ID = s.nextID
	s.accounts[acc.Username] = &acc
	s.verifiers[acc.Username] = verifier
	return acc.ID, nil
}

func (s *stubRepo) LoadGrants(ctx context.Context, userID int64) (auth.Grants, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[userID], nil
}

func (s *stubRepo) RenewVerifier(ctx context.Context, userID int64, verifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldown {
		return false, nil
	}
	for name, acc := range s.accounts {
		if acc.ID == userID {
			s.verifiers[name] = verifier
		}
	}
	return true, nil
}

func (s *stubRepo) ConsumeVerifier(ctx context.Context, username, verifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.verifiers[username]; !ok || v != verifier {
		return false, nil
	}
	delete(s.verifiers, username)
	s.accounts[username].Verified = true
	return true, nil
}

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (o *outbox) Send(ctx context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

type fixture struct {
	router   http.Handler
	repo     *stubRepo
	sessions *shared.SessionManager
	outbox   *outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newStubRepo()
	sessions := shared.NewSessionManager(client, time.Hour, 32)
	box := &outbox{}
	service := auth.NewService(repo, sessions, auth.Config{BcryptCost: bcrypt.MinCost, Mailer: box})

	r := chi.NewRouter()
	r.Use(auth.NewAuthenticator(sessions, nil).Middleware)
	auth.NewHandler(nil, service).MountRoutes(r)
	return &fixture{router: r, repo: repo, sessions: sessions, outbox: box}
}

func (f *fixture) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	header := rec.Header().Get("Authorization")
	require.True(t, strings.HasPrefix(header, "bearer "), header)
	return strings.TrimPrefix(header, "bearer ")
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "u", "u@example.com", "password1", true)

	rec := f.do(t, http.MethodPost, "/login", "", `{"username":"u","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := bearer(t, rec)

	rec = f.do(t, http.MethodGet, "/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "u", me["username"])
	assert.Equal(t, "u@example.com", me["email"])
	assert.Equal(t, []any{"authenticated"}, me["scopes"])

	rec = f.do(t, http.MethodPost, "/logout", token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginByEmailCarriesGrants(t *testing.T) {
	f := newFixture(t)
	acc := f.repo.add(t, "admin", "admin@example.com", "password1", true)
	f.repo.grants[acc.ID] = auth.Grants{AdminProjects: []string{"parks"}, ModeratorProjects: []string{"lakes"}}

	rec := f.do(t, http.MethodPost, "/login", "", `{"email":"admin@example.com","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := f.sessions.GetSession(context.Background(), bearer(t, rec))
	require.NoError(t, err)
	assert.Equal(t, "admin", sess.User)
	assert.Equal(t, []string{"admin", "moderator"}, sess.Data.Scopes)
	assert.Equal(t, []string{"parks"}, sess.Data.Projects)
	assert.Equal(t, []string{"lakes"}, sess.Data.ModeratorProjects)

	rec = f.do(t, http.MethodPost, "/login", "", `{"email":"Admin@Example.COM","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterMixedCaseEmailCanLogin(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/register", "", `{"username":"alice","email":"Alice@Example.com","password":"password1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "alice@example.com", f.repo.accounts["alice"].Email)
	f.repo.accounts["alice"].Verified = true

	rec = f.do(t, http.MethodPost, "/login", "", `{"email":"Alice@Example.com","password":"password1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "u", "u@example.com", "password1", true)
	f.repo.add(t, "pending", "p@example.com", "password1", false)

	rec := f.do(t, http.MethodPost, "/login", "", `{"username":"u","password":"wrong-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", "", `{"username":"ghost","password":"password1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", "", `{"username":"pending","password":"password1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", "", `{"password":"password1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLoginDisallowedWhenAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "u", "u@example.com", "password1", true)
	token := bearer(t, f.do(t, http.MethodPost, "/login", "", `{"username":"u","password":"password1"}`))

	rec := f.do(t, http.MethodPost, "/login", token, `{"username":"u","password":"password1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegisterVerifyLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/register", "", `{"username":"newbie","email":"New@Example.com","password":"password1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/me", rec.Header().Get("Location"))
	require.Len(t, f.outbox.sent, 1)
	assert.Equal(t, "new@example.com", f.outbox.sent[0].To)
	verifier := f.repo.verifiers["newbie"]
	assert.Contains(t, f.outbox.sent[0].Body, verifier)

	rec = f.do(t, http.MethodPost, "/login", "", `{"username":"newbie","password":"password1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/verify", "", `{"username":"newbie","verifier":"wrong"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/verify", "", `{"username":"newbie","verifier":"`+verifier+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/login", "", `{"username":"newbie","password":"password1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "taken", "taken@example.com", "password1", true)

	rec := f.do(t, http.MethodPost, "/register", "", `{"username":"taken","email":"other@example.com","password":"password1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/register", "", `{"username":"other","email":"taken@example.com","password":"password1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/register", "", `{"email":"not-an-email","password":"short"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRegisterLosingInsertRaceNamesColumn(t *testing.T) {
	f := newFixture(t)
	f.repo.beforeCreate = func() {
		f.repo.beforeCreate = nil
		f.repo.add(t, "rival", "race@example.com", "password1", false)
	}

	rec := f.do(t, http.MethodPost, "/register", "", `{"username":"winner","email":"race@example.com","password":"password1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Email already in use")

	f.repo.beforeCreate = func() {
		f.repo.beforeCreate = nil
		f.repo.add(t, "late", "late-rival@example.com", "password1", false)
	}
	rec = f.do(t, http.MethodPost, "/register", "", `{"username":"late","email":"late@example.com","password":"password1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Username already in use")
}

func TestRegisterGeneratesUsername(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/register", "", `{"email":"anon@example.com","password":"password1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body["username"].(string), "user-"))
}

func TestResendVerifierCooldown(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "pending", "p@example.com", "password1", false)

	rec := f.do(t, http.MethodPost, "/verify/resend", "", `{"email":"p@example.com"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, f.outbox.sent, 1)

	f.repo.cooldown = true
	rec = f.do(t, http.MethodPost, "/verify/resend", "", `{"email":"p@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodPost, "/verify/resend", "", `{"email":"ghost@example.com"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, f.outbox.sent, 1)
}

func TestMailRoutesAreRateLimited(t *testing.T) {
	f := newFixture(t)
	var last int
	for i := 0; i <= auth.MailRateLimit; i++ {
		last = f.do(t, http.MethodPost, "/verify/resend", "", `{"email":"ghost@example.com"}`).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSessionsListingAndClear(t *testing.T) {
	f := newFixture(t)
	f.repo.add(t, "u", "u@example.com", "password1", true)
	first := bearer(t, f.do(t, http.MethodPost, "/login", "", `{"username":"u","password":"password1"}`))
	second := bearer(t, f.do(t, http.MethodPost, "/login", "", `{"username":"u","password":"password1"}`))

	rec := f.do(t, http.MethodGet, "/me/sessions", first, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)
	assert.NotContains(t, rec.Body.String(), first)

	rec = f.do(t, http.MethodDelete, "/me/sessions", first, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/me", second, "").Code)
}

func TestProtectedRoutesRequireAuthentication(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/me", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/logout", "", "").Code)
}
