package auth

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

func newMockRepository(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	d := db.SQLDriver{OpenDB: func(string) (*sql.DB, error) { return mockDB, nil }}
	pool, err := db.New(db.Config{Workers: 1, CPW: 1, MaxWait: time.Second}, db.WithDriver(d))
	require.NoError(t, err)
	require.NoError(t, pool.Connect(context.Background()))
	t.Cleanup(func() { pool.Close(context.Background()) })
	return NewRepository(pool), mock
}

func expectTx(mock sqlmock.Sqlmock, body func()) {
	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	body()
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))
}

func translated(query string) string {
	text, _ := db.Translate(query, db.StyleDollar)
	return text
}

func TestRepositoryFindByLogin(t *testing.T) {
	repo, mock := newMockRepository(t)
	columns := []string{"id", "username", "email", "password_hash", "verified"}

	expectTx(mock, func() {
		mock.ExpectQuery(translated(findByLoginSQL)).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(3), "alice", "a@example.com", "hash", true))
	})
	acc, err := repo.FindByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, &Account{ID: 3, Username: "alice", Email: "a@example.com", PasswordHash: "hash", Verified: true}, acc)

	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(translated(findByLoginSQL)).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = repo.FindByLogin(context.Background(), "ghost")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateAccountInsertsVerifier(t *testing.T) {
	repo, mock := newMockRepository(t)

	expectTx(mock, func() {
		mock.ExpectQuery(translated(insertUserSQL)).
			WithArgs("alice", "a@example.com", "hash", false).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectExec(translated(insertVerifierSQL)).
			WithArgs(int64(11), "code").
			WillReturnResult(sqlmock.NewResult(0, 1))
	})

	id, err := repo.CreateAccount(context.Background(), Account{Username: "alice", Email: "a@example.com", PasswordHash: "hash"}, "code")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryLoadGrants(t *testing.T) {
	repo, mock := newMockRepository(t)

	expectTx(mock, func() {
		mock.ExpectQuery(translated(superuserSQL)).WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"superuser"}).AddRow(false))
		mock.ExpectQuery(translated(adminProjectsSQL)).WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("lakes").AddRow("parks"))
		mock.ExpectQuery(translated(moderatorProjectsSQL)).WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}))
	})

	g, err := repo.LoadGrants(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Grants{AdminProjects: []string{"lakes", "parks"}, ModeratorProjects: []string{}}, g)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRenewVerifierCooldown(t *testing.T) {
	repo, mock := newMockRepository(t)

	expectTx(mock, func() {
		mock.ExpectExec(translated(renewVerifierSQL)).WithArgs(int64(5), "next").
			WillReturnResult(sqlmock.NewResult(0, 0))
	})

	renewed, err := repo.RenewVerifier(context.Background(), 5, "next")
	require.NoError(t, err)
	assert.False(t, renewed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryConsumeVerifier(t *testing.T) {
	repo, mock := newMockRepository(t)

	expectTx(mock, func() {
		mock.ExpectExec(translated(consumeVerifierSQL)).WithArgs("alice", "code").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(translated(markVerifiedSQL)).WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(0, 1))
	})
	ok, err := repo.ConsumeVerifier(context.Background(), "alice", "code")
	require.NoError(t, err)
	assert.True(t, ok)

	expectTx(mock, func() {
		mock.ExpectExec(translated(consumeVerifierSQL)).WithArgs("alice", "stale").
			WillReturnResult(sqlmock.NewResult(0, 0))
	})
	ok, err = repo.ConsumeVerifier(context.Background(), "alice", "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHTTPNameGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"quiet-otter"}`))
	}))
	defer srv.Close()

	name, err := NewNameGenerator(srv.URL).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "quiet-otter", name)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	_, err = NewNameGenerator(failing.URL).Generate(context.Background())
	assert.Error(t, err)

	_, isRandom := NewNameGenerator("").(RandomNameGenerator)
	assert.True(t, isRandom)
}

func TestSessionDataScopes(t *testing.T) {
	assert.Equal(t, []string{}, SessionData(Grants{}).Scopes)
	assert.Equal(t, []string{"admin"}, SessionData(Grants{AdminProjects: []string{"p"}}).Scopes)
	assert.Equal(t, []string{"admin", "moderator", "superuser"}, SessionData(Grants{Superuser: true}).Scopes)
}
