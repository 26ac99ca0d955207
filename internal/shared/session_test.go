package shared_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
	_ "github.com/MuistotKartalla/muistot-backend-sub001/testing"
)

func newSessionManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, time.Hour, 32), mr
}

func sampleSession(user string) shared.Session {
	return shared.Session{
		User: user,
		Data: shared.SessionData{
			Scopes:   []string{"admin"},
			Projects: []string{"parks"},
		},
	}
}

func TestStartSessionIndexesToken(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	token, err := sm.StartSession(ctx, sampleSession("alice"))
	require.NoError(t, err)

	digest, err := shared.DecodeToken(token)
	require.NoError(t, err)
	members, err := mr.Members(shared.UserPrefix + "alice")
	require.NoError(t, err)
	assert.Contains(t, members, shared.TokenPrefix+string(digest))
	assert.Equal(t, time.Hour, mr.TTL(shared.TokenPrefix+string(digest)))
}

func TestGetSessionRoundTrip(t *testing.T) {
	sm, _ := newSessionManager(t)
	ctx := context.Background()
	in := sampleSession("alice")
	in.Data.ModeratorProjects = []string{"lakes"}
	in.Data.Extra = map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)}

	token, err := sm.StartSession(ctx, in)
	require.NoError(t, err)

	out, err := sm.GetSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, in.User, out.User)
	assert.Equal(t, in.Data, out.Data)
	assert.False(t, out.CreatedAt.IsZero())
	assert.Greater(t, out.TTL, time.Duration(0))
}

func TestEndSessionInvalidatesToken(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	token, err := sm.StartSession(ctx, sampleSession("alice"))
	require.NoError(t, err)
	require.NoError(t, sm.EndSession(ctx, token))

	_, err = sm.GetSession(ctx, token)
	assert.ErrorIs(t, err, shared.ErrInvalidSession)
	members, _ := mr.Members(shared.UserPrefix + "alice")
	assert.Empty(t, members)
}

func TestGetSessionRejectsMalformedTokens(t *testing.T) {
	sm, _ := newSessionManager(t)
	for _, token := range []string{"not base64!", "äöå", "c2hvcnQ="} {
		_, err := sm.GetSession(context.Background(), token)
		assert.ErrorIs(t, err, shared.ErrInvalidToken, token)
	}
}

func TestExtendResetsLifetime(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	token, err := sm.StartSession(ctx, sampleSession("alice"))
	require.NoError(t, err)
	mr.FastForward(50 * time.Minute)

	require.NoError(t, sm.Extend(ctx, token))
	digest, _ := shared.DecodeToken(token)
	assert.Equal(t, time.Hour, mr.TTL(shared.TokenPrefix+string(digest)))

	// Absent tokens are a no-op.
	other, err := shared.NewToken(32)
	require.NoError(t, err)
	assert.NoError(t, sm.Extend(ctx, other))
}

func TestGetSessionsCullsExpiredMembers(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	live, err := sm.StartSession(ctx, sampleSession("alice"))
	require.NoError(t, err)
	expiring, err := sm.StartSession(ctx, sampleSession("alice"))
	require.NoError(t, err)

	digest, _ := shared.DecodeToken(expiring)
	mr.Del(shared.TokenPrefix + string(digest))

	sessions, err := sm.GetSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	members, _ := mr.Members(shared.UserPrefix + "alice")
	assert.Len(t, members, 1)
	liveDigest, _ := shared.DecodeToken(live)
	assert.Equal(t, shared.TokenPrefix+string(liveDigest), members[0])
}

func TestGetSessionsDropsBogusIndexEntries(t *testing.T) {
	sm, mr := newSessionManager(t)
	_, err := mr.SAdd(shared.UserPrefix+"alice", "bogus-raw-token")
	require.NoError(t, err)

	sessions, err := sm.GetSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 0)
	assert.False(t, mr.Exists(shared.UserPrefix+"alice"))
}

func TestClearSessions(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	a1, _ := sm.StartSession(ctx, sampleSession("alice"))
	a2, _ := sm.StartSession(ctx, sampleSession("alice"))
	b1, _ := sm.StartSession(ctx, sampleSession("bob"))

	require.NoError(t, sm.ClearSessions(ctx, "alice"))
	for _, token := range []string{a1, a2} {
		_, err := sm.GetSession(ctx, token)
		assert.ErrorIs(t, err, shared.ErrInvalidSession)
	}
	assert.False(t, mr.Exists(shared.UserPrefix+"alice"))

	_, err := sm.GetSession(ctx, b1)
	assert.NoError(t, err)
}

func TestClearAllSessions(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("unrelated", "kept"))

	tokens := make([]string, 0, 3)
	for _, user := range []string{"alice", "bob", "carol"} {
		token, err := sm.StartSession(ctx, sampleSession(user))
		require.NoError(t, err)
		tokens = append(tokens, token)
	}

	require.NoError(t, sm.ClearAllSessions(ctx))
	for _, token := range tokens {
		_, err := sm.GetSession(ctx, token)
		assert.ErrorIs(t, err, shared.ErrInvalidSession)
	}
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestSessionExpiresWithTTL(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	token, err := sm.StartSession(ctx, sampleSession("alice"))
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	_, err = sm.GetSession(ctx, token)
	assert.ErrorIs(t, err, shared.ErrInvalidSession)
}
