package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

func userWith(scopes []string, admin, moderator []string) *shared.User {
	return shared.NewUser("tok", shared.Session{
		User: "u",
		Data: shared.SessionData{Scopes: scopes, Projects: admin, ModeratorProjects: moderator},
	})
}

func serve(h http.Handler, user *shared.User, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if user != nil {
		req = req.WithContext(shared.ContextWithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireScopes(t *testing.T) {
	h := RequireScopes(shared.ScopeAdmin)(okHandler)

	assert.Equal(t, http.StatusUnauthorized, serve(h, nil, "/").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, userWith(nil, nil, nil), "/").Code)
	assert.Equal(t, http.StatusOK, serve(h, userWith([]string{"admin"}, []string{"p"}, nil), "/").Code)

	// Scopes are matched case-insensitively at declaration.
	h = RequireScopes(" ADMIN ")(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, userWith([]string{"admin"}, nil, nil), "/").Code)

	// No scopes still requires authentication.
	h = RequireScopes()(okHandler)
	assert.Equal(t, http.StatusUnauthorized, serve(h, shared.NullUser(), "/").Code)
}

func TestDisallowAuth(t *testing.T) {
	h := DisallowAuth(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, nil, "/").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, userWith(nil, nil, nil), "/").Code)
}

func TestProjectRoles(t *testing.T) {
	r := chi.NewRouter()
	r.With(RequireAdminIn("project")).Get("/admin/{project}", okHandler)
	r.With(RequireModeratorIn("project")).Get("/moderate/{project}", okHandler)

	admin := userWith([]string{"admin"}, []string{"parks"}, nil)
	moderator := userWith([]string{"moderator"}, nil, []string{"parks"})
	superuser := userWith([]string{"superuser"}, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(r, nil, "/admin/parks").Code)
	assert.Equal(t, http.StatusOK, serve(r, admin, "/admin/parks").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, admin, "/admin/lakes").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, moderator, "/admin/parks").Code)
	assert.Equal(t, http.StatusOK, serve(r, superuser, "/admin/anything").Code)

	assert.Equal(t, http.StatusOK, serve(r, moderator, "/moderate/parks").Code)
	assert.Equal(t, http.StatusOK, serve(r, admin, "/moderate/parks").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, moderator, "/moderate/lakes").Code)
}

func intp(v int) *int { return &v }

func TestResolveStatus(t *testing.T) {
	assert.Equal(t, DoesNotExist, ResolveStatus(nil))
	assert.Equal(t, Published, ResolveStatus(intp(1)))
	assert.Equal(t, NotPublished, ResolveStatus(intp(0)))
	assert.Equal(t, Own|Admin, OwnAndAdmin)
	assert.True(t, OwnAndAdmin.Has(Own))
	assert.False(t, Own.Has(Admin))
	assert.Equal(t, "OWN|ADMIN", OwnAndAdmin.String())
	assert.Equal(t, "DOES_NOT_EXIST", DoesNotExist.String())
	assert.True(t, Published.Visible())
	assert.False(t, NotPublished.Visible())
}

func summaryRow(project, site, memory, comment any, creator, admin bool) db.Row {
	return db.NewRow(
		[]string{"project_published", "site_published", "memory_published", "comment_published", "is_creator", "is_admin"},
		[]any{project, site, memory, comment, creator, admin},
	)
}

func notFound(t *testing.T, err error) string {
	t.Helper()
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
	return nf.Resource
}

func TestDecide(t *testing.T) {
	// Memory in an unpublished site.
	_, err := Decide(summaryRow(true, false, true, nil, false, false), 3, false)
	assert.Equal(t, ResourceSite, notFound(t, err))

	status, err := Decide(summaryRow(true, false, true, nil, true, false), 3, false)
	require.NoError(t, err)
	assert.Equal(t, Own, status)

	status, err = Decide(summaryRow(false, false, true, nil, false, true), 3, false)
	require.NoError(t, err)
	assert.Equal(t, Admin, status)

	status, err = Decide(summaryRow(false, nil, nil, nil, false, false), 1, true)
	require.NoError(t, err)
	assert.Equal(t, Admin, status)

	_, err = Decide(summaryRow(false, true, true, nil, false, false), 3, false)
	assert.Equal(t, ResourceProject, notFound(t, err))

	_, err = Decide(summaryRow(true, nil, nil, nil, false, false), 2, false)
	assert.Equal(t, ResourceSite, notFound(t, err))

	_, err = Decide(summaryRow(nil, nil, nil, nil, true, true), 1, false)
	assert.Equal(t, ResourceProject, notFound(t, err))

	status, err = Decide(summaryRow(true, true, false, nil, false, false), 3, false)
	require.NoError(t, err)
	assert.Equal(t, NotPublished, status)

	status, err = Decide(summaryRow(true, true, true, true, false, false), 4, false)
	require.NoError(t, err)
	assert.Equal(t, Published, status)

	_, err = Decide(summaryRow(true, true, false, true, false, false), 4, false)
	assert.Equal(t, ResourceMemory, notFound(t, err))
}

type stubQuerier struct {
	query string
	args  db.Args
	row   db.Row
	err   error
}

func (s *stubQuerier) FetchOne(ctx context.Context, query string, args db.Args) (db.Row, error) {
	s.query, s.args = query, args
	return s.row, s.err
}

func (s *stubQuerier) FetchVal(context.Context, string, db.Args) (any, error) { return nil, nil }

func (s *stubQuerier) FetchAll(context.Context, string, db.Args) ([]db.Row, error) { return nil, nil }

func (s *stubQuerier) Execute(context.Context, string, db.Args) (int64, error) { return 0, nil }

func TestStatusResolverBindsTarget(t *testing.T) {
	q := &stubQuerier{row: summaryRow(true, true, true, nil, false, false)}
	resolver := NewStatusResolver(q)

	status, err := resolver.Resolve(context.Background(), shared.NullUser(), Target{Project: "parks", Site: "oak", Memory: 4})
	require.NoError(t, err)
	assert.Equal(t, Published, status)
	assert.Equal(t, db.Args{"project": "parks", "site": "oak", "memory": int64(4), "user": ""}, q.args)
	assert.Contains(t, q.query, "LEFT JOIN memories m")
	assert.NotContains(t, q.query, "LEFT JOIN comments")
	assert.Contains(t, q.query, "COALESCE(m.user_id")

	q.err = &db.Error{Kind: db.KindOperational, Op: "acquire", Err: errors.New("timeout")}
	_, err = resolver.Resolve(context.Background(), shared.NullUser(), Target{Project: "parks"})
	assert.ErrorIs(t, err, db.ErrOperational)
}

func TestStatusQueryTranslates(t *testing.T) {
	text, names := db.Translate(StatusQuery(4), db.StyleDollar)
	assert.Equal(t, []string{"user", "project", "site", "memory", "comment"}, names)
	assert.NotContains(t, text, ":")
}

func TestNotFoundErrorRendersResource(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.RespondError(rec, &NotFoundError{Resource: ResourceSite})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, strings.HasPrefix(env.Error.Message, "Site"))
	assert.ErrorIs(t, &NotFoundError{Resource: ResourceSite}, shared.ErrNotFound)
}
